// Package logx is the structured logger used across the bot.
//
// Logger is a small value type over zerolog: console output keeps a short
// timestamp and caller, the file sink writes JSON, and an optional chat sink
// mirrors warnings to a Telegram chat with rate limiting.
package logx
