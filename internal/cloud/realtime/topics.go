package realtime

import (
	"fmt"
	"strings"
)

// Topic kinds on the vendor broker.
const (
	kindQuota    = "quota"
	kindStatus   = "status"
	kindSetReply = "set_reply"
)

// deviceTopics returns the topics subscribed for one device. The set
// topic is absent on purpose: commands travel the signed channel only.
func deviceTopics(account, deviceSN string) []string {
	return []string{
		fmt.Sprintf("/open/%s/%s/%s", account, deviceSN, kindQuota),
		fmt.Sprintf("/open/%s/%s/%s", account, deviceSN, kindStatus),
		fmt.Sprintf("/open/%s/%s/%s", account, deviceSN, kindSetReply),
	}
}

// parseTopic extracts the device serial and topic kind from a broker
// topic of the form /open/{account}/{sn}/{kind}.
func parseTopic(topic string) (deviceSN, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != "" || parts[1] != "open" {
		return "", "", false
	}
	if parts[3] == "" || parts[4] == "" {
		return "", "", false
	}
	return parts[3], parts[4], true
}
