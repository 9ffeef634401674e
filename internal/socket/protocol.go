package socket

import (
	"encoding/json"

	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// Client request events
const (
	EventGetInitialSchedule    = "getInitialSchedule"
	EventGetUpdatedSchedule    = "getUpdatedSchedule"
	EventGetAppointmentDetails = "getAppointmentDetails"
	EventIsStatusComplete      = "isStatusComplete"
	EventStatusTransition      = "statusTransition"
	EventGetDayOffset          = "getDayOffset"
)

// Request is one frame sent by a client. ID is echoed on the response.
type Request struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Response answers a Request, or carries a server push when ID is empty
type Response struct {
	ID    string     `json:"id,omitempty"`
	Event string     `json:"event"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody reports a failed request with its error code
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorBody(err error) *ErrorBody {
	return &ErrorBody{Code: types.Code(err), Message: err.Error()}
}

type scheduleRequest struct {
	DayOffset *int `json:"dayOffset"`
}

type detailsRequest struct {
	TaskID string `json:"taskId"`
}

type completeRequest struct {
	Status string `json:"status"`
}

type transitionRequest struct {
	Task map[string]any `json:"task"`
}

// ScheduleResponse carries a compiled schedule for one engineer
type ScheduleResponse struct {
	DayOffset int `json:"dayOffset"`
	Tasks     any `json:"tasks"`
}
