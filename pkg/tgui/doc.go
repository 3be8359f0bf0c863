// Package tgui provides small Telegram UI helpers:
//   - inline and reply keyboard builders
//   - callback data helpers (scope:action:payload)
//   - HTML escaping for ParseMode="HTML"
package tgui
