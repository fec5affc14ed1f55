// Package plugin interprets the text printed by a monitoring plugin.
//
// A plugin prints one line in one of two grammars:
//
//	<status> | <message>
//	<status> - <message>
//
// The first " | " wins over any " - ". Text matching neither grammar is a
// status without message. The status is free text, different plugins phrase
// the same state differently, so it is classified by substring search:
//
//	contains "CRITICAL"                      -> CRITICAL
//	contains "WARNING"                       -> WARNING
//	contains neither "OK" nor "up and running" -> UNKNOWN
//	otherwise                                -> OK
//
// The order matters, "CRITICAL and OK" is CRITICAL.
package plugin
