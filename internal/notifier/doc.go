// Package notifier is the single place outbound messages leave the bot.
//
// Every send is best-effort: a failure is logged once, counted, published on
// the event bus as a delivery.failed event and then swallowed. Callers get a
// boolean and decide whether the missing message matters to them.
package notifier
