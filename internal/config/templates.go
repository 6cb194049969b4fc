package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "device":
		return deviceTemplate, nil
	case "radctl":
		return radctlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const deviceTemplate = `name = "radiacode"
language = "en"

[sound]
on = true
volume = 5
events = ["buttons", "dose_rate_alarm_1", "dose_rate_alarm_2", "dose_alarm_1", "dose_alarm_2"]

[vibro]
on = true
events = ["dose_rate_alarm_2", "dose_alarm_2"]

[display]
brightness = 6
off_time = 15
direction = "auto"

[leds]
on = true
brightness = 3

[alarm_limits]
count_rate_1 = 60.0
count_rate_2 = 300.0
count_unit = "cps"
dose_rate_1 = 0.4
dose_rate_2 = 1.2
dose_1 = 0.01
dose_2 = 0.05
dose_unit = "Sv"
`

const radctlTemplate = `device_id = "radiacode"
transport = "ble"
ble_address = "52:43:01:02:03:04"
ble_adapter = "hci0"
usb_serial = ""
device_profile = ""
poll_interval = "1s"
request_timeout = "5s"
http_addr = ":9300"
cors_origins = ["http://localhost:3000"]
redis_addr = ""
redis_channel = "radlink.state"
event_log_size = 256
backoff_initial = "500ms"
backoff_max = "30s"
`
