package channel

import "strings"

// Topic names shared with the dispatch backend.
const (
	TopicRideNotify  = "aeras/ride/notify"
	TopicRideAccept  = "aeras/ride/accept"
	TopicRideReject  = "aeras/ride/reject"
	TopicRideCancel  = "aeras/ride/cancel"
	TopicRidePickup  = "aeras/ride/pickup"
	TopicRideDrop    = "aeras/ride/drop"
	TopicRideRequest = "aeras/ride/request"

	TopicDeviceStatus   = "aeras/device/status"
	TopicDeviceLocation = "aeras/device/location"
	TopicHeartbeat      = "aeras/heartbeat"
)

// RideStatusTopic is the per-client topic the backend answers ride requests on.
func RideStatusTopic(clientID string) string {
	return "aeras/ride/status/" + clientID
}

// EventKind derives the event name stamped into outbound envelopes from the
// topic, e.g. "aeras/ride/accept" becomes "ride_accept".
func EventKind(topic string) string {
	return strings.ReplaceAll(strings.TrimPrefix(topic, "aeras/"), "/", "_")
}
