package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicPrefix is the root of every meterlog topic.
const TopicPrefix = "meterlog"

// Topics provides builders for meterlog MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.Reading("meter-a", 3)
//	// Returns: "meterlog/reading/meter-a/3"
type Topics struct{}

// Reading returns the retained topic carrying the latest stored reading of
// one channel.
//
// Example: meterlog/reading/meter-a/3
func (Topics) Reading(device string, channel int) string {
	return fmt.Sprintf("%s/reading/%s/%d", TopicPrefix, device, channel)
}

// Poll returns the topic carrying the outcome of each poll cycle of a device.
//
// Example: meterlog/poll/meter-a
func (Topics) Poll(device string) string {
	return fmt.Sprintf("%s/poll/%s", TopicPrefix, device)
}

// PollCommand returns the topic on which on-demand polls of a device are
// requested.
//
// Example: meterlog/command/poll/meter-a
func (Topics) PollCommand(device string) string {
	return fmt.Sprintf("%s/command/poll/%s", TopicPrefix, device)
}

// SystemStatus returns the online/offline status topic.
//
// Example: meterlog/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllPollCommands returns a pattern matching poll commands for every device.
//
// Pattern: meterlog/command/poll/+
func (Topics) AllPollCommands() string {
	return TopicPrefix + "/command/poll/+"
}

// AllReadings returns a pattern matching every reading topic.
//
// Pattern: meterlog/reading/+/+
func (Topics) AllReadings() string {
	return TopicPrefix + "/reading/+/+"
}

// PollCommandDevice extracts the device id from a poll command topic.
// It reports false for topics that are not poll commands.
func (Topics) PollCommandDevice(topic string) (string, bool) {
	device, ok := strings.CutPrefix(topic, TopicPrefix+"/command/poll/")
	if !ok || device == "" || strings.Contains(device, "/") {
		return "", false
	}
	return device, true
}

// ReadingAddress extracts the device id and channel from a reading topic.
func (Topics) ReadingAddress(topic string) (device string, channel int, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefix+"/reading/")
	if !found {
		return "", 0, false
	}
	device, chanStr, found := strings.Cut(rest, "/")
	if !found || device == "" {
		return "", 0, false
	}
	channel, err := strconv.Atoi(chanStr)
	if err != nil {
		return "", 0, false
	}
	return device, channel, true
}
