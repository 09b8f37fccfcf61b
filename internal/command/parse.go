package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-node/internal/settings"
)

// Parameter limits.
const (
	// MaxLineLength is the longest accepted command line in bytes.
	MaxLineLength = 256

	maxDeviceIDLength  = 32
	maxSSIDLength      = 32
	minPassphraseLen   = 8
	maxPassphraseLen   = 63
	maxHumidity        = 100
	minTemperatureMax  = -40
	maxTemperatureMax  = 85
	minUTCOffset       = -12
	maxUTCOffset       = 14
	sensorFlagCount    = 4
	alarmFieldCount    = 3
	verbArgSeparator   = ":"
	argumentsSeparator = ","
)

var usage = map[string]string{
	VerbSetDeviceID:     "SET_DEVICE_ID:name",
	VerbSetWiFi:         "SET_WIFI:ssid,password",
	VerbSetMQTT:         "SET_MQTT:host,port",
	VerbSetReadInterval: "SET_READ_INTERVAL:seconds",
	VerbSetSensors:      "SET_SENSORS:n,t,u,r",
	VerbSetSleep:        "SET_SLEEP:0|1,minutes",
	VerbSetAlarms:       "SET_ALARMS:hmin,hmax,tmax",
	VerbSetNTP:          "SET_NTP:server,offset",
	VerbSetDebug:        "SET_DEBUG:0-3",
	VerbSetLED:          "SET_LED:0|1",
}

// HelpText lists the verbs, one per line.
var HelpText = []string{
	"STATUS                     node status",
	"GET_CONFIG                 configuration as JSON",
	"SCAN                       scan wifi networks",
	"RESTART                    restart",
	"RESET                      factory reset",
	"",
	"SET_DEVICE_ID:name         device id",
	"SET_WIFI:ssid,pass         wifi credentials",
	"SET_MQTT:host,port         broker endpoint",
	"SET_READ_INTERVAL:s        read interval (5-3600)",
	"SET_SENSORS:n,t,u,r        sensors (1/0)",
	"SET_SLEEP:en,min           sleep mode",
	"SET_ALARMS:hmin,hmax,tmax  alarm thresholds",
	"SET_NTP:server,offset      time server and UTC offset",
	"SET_DEBUG:0-3              debug level",
	"SET_LED:0|1                status led",
}

// Parse turns one line into a Command.
//
// Parameters:
//   - line: Raw operator input; surrounding whitespace is ignored
//
// Returns:
//   - Command: The parsed command, Unknown for unrecognised verbs
//   - error: ErrTooLong, or ErrBadFormat/ErrOutOfRange for a recognised
//     verb with invalid parameters. The command must then be discarded.
//
// Example:
//
//	cmd, err := Parse("SET_READ_INTERVAL:60")
//	if err != nil {
//	    return err
//	}
func Parse(line string) (Command, error) {
	if len(line) > MaxLineLength {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLong, len(line), MaxLineLength)
	}
	line = strings.TrimSpace(line)

	verb, args, hasArgs := strings.Cut(line, verbArgSeparator)
	verb = strings.ToUpper(strings.TrimSpace(verb))

	if !hasArgs {
		switch verb {
		case VerbStatus:
			return Status{}, nil
		case VerbGetConfig:
			return GetConfig{}, nil
		case VerbRestart, "REBOOT":
			return Restart{}, nil
		case VerbFactoryReset, "FACTORY_RESET":
			return FactoryReset{}, nil
		case VerbScan:
			return Scan{}, nil
		case VerbHelp, "?":
			return Help{}, nil
		}
		if _, ok := usage[verb]; ok {
			return nil, badFormat(verb)
		}
		return Unknown{Line: line}, nil
	}

	switch verb {
	case VerbSetDeviceID:
		return parseDeviceID(args)
	case VerbSetWiFi:
		return parseWiFi(args)
	case VerbSetMQTT:
		return parseMQTT(args)
	case VerbSetReadInterval:
		return parseReadInterval(args)
	case VerbSetSensors:
		return parseSensors(args)
	case VerbSetSleep:
		return parseSleep(args)
	case VerbSetAlarms:
		return parseAlarms(args)
	case VerbSetNTP:
		return parseNTP(args)
	case VerbSetDebug:
		return parseDebug(args)
	case VerbSetLED:
		return parseLED(args)
	default:
		return Unknown{Line: line}, nil
	}
}

func badFormat(verb string) error {
	return fmt.Errorf("%w: usage %s", ErrBadFormat, usage[verb])
}

func parseDeviceID(args string) (Command, error) {
	name := strings.TrimSpace(args)
	if err := validateDeviceID(name); err != nil {
		return nil, err
	}
	return SetDeviceID{Name: name}, nil
}

// parseWiFi splits on the first comma so passphrases may contain commas.
func parseWiFi(args string) (Command, error) {
	ssid, pass, ok := strings.Cut(args, argumentsSeparator)
	if !ok || ssid == "" {
		return nil, badFormat(VerbSetWiFi)
	}
	if err := validateCredentials(ssid, pass); err != nil {
		return nil, err
	}
	return SetWiFi{SSID: ssid, Passphrase: pass}, nil
}

// parseMQTT keeps the record's port fallback: an unparseable or
// non-positive port becomes 1883.
func parseMQTT(args string) (Command, error) {
	host, portText, ok := strings.Cut(args, argumentsSeparator)
	host = strings.TrimSpace(host)
	if !ok || host == "" {
		return nil, badFormat(VerbSetMQTT)
	}
	port, err := strconv.Atoi(strings.TrimSpace(portText))
	if err != nil || port <= 0 || port > 65535 {
		port = settings.DefaultBrokerPort
	}
	return SetMQTT{Host: host, Port: port}, nil
}

func parseReadInterval(args string) (Command, error) {
	seconds, err := atoi(args)
	if err != nil {
		return nil, badFormat(VerbSetReadInterval)
	}
	if seconds < settings.MinReadInterval || seconds > settings.MaxReadInterval {
		return nil, fmt.Errorf("%w: read interval must be %d-%d", ErrOutOfRange, settings.MinReadInterval, settings.MaxReadInterval)
	}
	return SetReadInterval{Seconds: seconds}, nil
}

// parseSensors reads four 0/1 flags in mask order: soil, temperature,
// UV, rain.
func parseSensors(args string) (Command, error) {
	flags := strings.Split(args, argumentsSeparator)
	if len(flags) != sensorFlagCount {
		return nil, badFormat(VerbSetSensors)
	}
	var mask settings.SensorMask
	for i, f := range flags {
		on, err := parseFlag(f)
		if err != nil {
			return nil, badFormat(VerbSetSensors)
		}
		if on {
			mask |= 1 << i
		}
	}
	return SetSensors{Mask: mask}, nil
}

func parseSleep(args string) (Command, error) {
	enabledText, minutesText, ok := strings.Cut(args, argumentsSeparator)
	if !ok {
		return nil, badFormat(VerbSetSleep)
	}
	enabled, err := parseFlag(enabledText)
	if err != nil {
		return nil, badFormat(VerbSetSleep)
	}
	minutes, err := atoi(minutesText)
	if err != nil {
		return nil, badFormat(VerbSetSleep)
	}
	return SetSleep{Enabled: enabled, Minutes: minutes}, nil
}

func parseAlarms(args string) (Command, error) {
	fields := strings.Split(args, argumentsSeparator)
	if len(fields) != alarmFieldCount {
		return nil, badFormat(VerbSetAlarms)
	}
	var values [alarmFieldCount]int
	for i, f := range fields {
		v, err := atoi(f)
		if err != nil {
			return nil, badFormat(VerbSetAlarms)
		}
		values[i] = v
	}
	a := settings.Alarms{HumidityMin: values[0], HumidityMax: values[1], TemperatureMax: values[2]}
	if err := validateAlarms(a); err != nil {
		return nil, err
	}
	return SetAlarms{Alarms: a}, nil
}

func parseNTP(args string) (Command, error) {
	server, offsetText, ok := strings.Cut(args, argumentsSeparator)
	server = strings.TrimSpace(server)
	if !ok || server == "" {
		return nil, badFormat(VerbSetNTP)
	}
	offset, err := atoi(offsetText)
	if err != nil {
		return nil, badFormat(VerbSetNTP)
	}
	if err := validateOffset(offset); err != nil {
		return nil, err
	}
	return SetNTP{Server: server, Offset: offset}, nil
}

func parseDebug(args string) (Command, error) {
	level, err := atoi(args)
	if err != nil {
		return nil, badFormat(VerbSetDebug)
	}
	if level < 0 || level > settings.MaxDebugLevel {
		return nil, fmt.Errorf("%w: 0=Off, 1=Error, 2=Info, 3=Verbose", ErrOutOfRange)
	}
	return SetDebug{Level: level}, nil
}

func parseLED(args string) (Command, error) {
	on, err := parseFlag(args)
	if err != nil {
		return nil, badFormat(VerbSetLED)
	}
	return SetLED{Enabled: on}, nil
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func parseFlag(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, ErrBadFormat
	}
}

func validateDeviceID(name string) error {
	if name == "" {
		return badFormat(VerbSetDeviceID)
	}
	if len(name) > maxDeviceIDLength || strings.ContainsAny(name, "/+#") {
		return fmt.Errorf("%w: device id must be 1-%d characters without '/', '+' or '#'", ErrOutOfRange, maxDeviceIDLength)
	}
	return nil
}

// validateCredentials accepts an open network (empty passphrase) or a
// WPA2 passphrase.
func validateCredentials(ssid, pass string) error {
	if ssid == "" {
		return badFormat(VerbSetWiFi)
	}
	if len(ssid) > maxSSIDLength {
		return fmt.Errorf("%w: ssid longer than %d bytes", ErrOutOfRange, maxSSIDLength)
	}
	if pass != "" && (len(pass) < minPassphraseLen || len(pass) > maxPassphraseLen) {
		return fmt.Errorf("%w: password must be %d-%d characters", ErrOutOfRange, minPassphraseLen, maxPassphraseLen)
	}
	return nil
}

func validateAlarms(a settings.Alarms) error {
	if a.HumidityMin < 0 || a.HumidityMax > maxHumidity || a.HumidityMin >= a.HumidityMax {
		return fmt.Errorf("%w: humidity thresholds must satisfy 0 <= min < max <= %d", ErrOutOfRange, maxHumidity)
	}
	if a.TemperatureMax < minTemperatureMax || a.TemperatureMax > maxTemperatureMax {
		return fmt.Errorf("%w: temperature threshold must be %d-%d", ErrOutOfRange, minTemperatureMax, maxTemperatureMax)
	}
	return nil
}

func validateOffset(offset int) error {
	if offset < minUTCOffset || offset > maxUTCOffset {
		return fmt.Errorf("%w: utc offset must be %d to %+d", ErrOutOfRange, minUTCOffset, maxUTCOffset)
	}
	return nil
}
