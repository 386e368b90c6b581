package domain

import "time"

type FeatureStatus int

const (
	FEATURE_STATUS_PRESENT FeatureStatus = iota + 1
	FEATURE_STATUS_MISSING
	FEATURE_STATUS_STALE
	FEATURE_STATUS_UNAVAILABLE
)

func (s FeatureStatus) String() string {
	switch s {
	case FEATURE_STATUS_PRESENT:
		return "PRESENT"
	case FEATURE_STATUS_MISSING:
		return "MISSING"
	case FEATURE_STATUS_STALE:
		return "STALE"
	case FEATURE_STATUS_UNAVAILABLE:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// FeatureVector is one entity row's served features: a value, a status and,
// for stored features, the event time it was written with.
type FeatureVector struct {
	Values     map[string]interface{}
	Statuses   map[string]FeatureStatus
	EventTimes map[string]time.Time
}

// ServingResponse carries one vector per requested entity row. ViewErrors is
// populated only when the service runs with partial results enabled; the
// affected columns are UNAVAILABLE.
type ServingResponse struct {
	ServiceName string
	RequestID   string
	FieldNames  []string
	Vectors     []*FeatureVector
	ViewErrors  map[string]error
}
