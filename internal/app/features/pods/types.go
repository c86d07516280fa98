// internal/app/features/pods/types.go
package pods

import "github.com/quietcove/podhub/internal/domain/models"

// joinRequest is the body for POST /pods/join.
type joinRequest struct {
	Topic    string `json:"topic"`
	Style    string `json:"style"`
	Duration string `json:"duration"`
}

// joinResponse is the body returned by a successful join.
type joinResponse struct {
	PodID string `json:"pod_id"`
}

// currentResponse is the body for GET /pods/current.
// Pod is null when the caller has no active, non-expired pod.
type currentResponse struct {
	Pod *models.Pod `json:"pod"`
}

// sendRequest is the body for POST /pods/{podID}/messages.
type sendRequest struct {
	Text string `json:"text"`
}

// inboundFrame is a client-to-server WebSocket frame on the message stream.
type inboundFrame struct {
	Text string `json:"text"`
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}
