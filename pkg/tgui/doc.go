// Package tgui holds small Telegram UI helpers: HTML escaping, a message
// card builder, inline keyboards with "scope:action:payload" callback data
// and slice paging.
package tgui
