// Package command parses operator command lines into typed commands.
//
// Lines arrive from the local console or the broker command topic and use
// the form VERB or VERB:arg[,arg...]. Verbs are case-insensitive:
//
//	STATUS                      GET_CONFIG
//	RESTART | REBOOT            RESET | FACTORY_RESET
//	SCAN                        HELP | ?
//	SET_DEVICE_ID:name          SET_WIFI:ssid,password
//	SET_MQTT:host,port          SET_READ_INTERVAL:seconds
//	SET_SENSORS:n,t,u,r         SET_SLEEP:0|1,minutes
//	SET_ALARMS:hmin,hmax,tmax   SET_NTP:server,offset
//	SET_DEBUG:0-3               SET_LED:0|1
//
// Parse always yields a Command. Unrecognised verbs become Unknown; a
// recognised verb with invalid parameters returns an error wrapping
// ErrBadFormat or ErrOutOfRange and must not be applied.
//
// Setters implement Mutation. Apply validates again before touching the
// record, so a rejected value never changes configuration.
package command
