// SPDX-License-Identifier: MIT
package rest

// CLIP v2 resources, trimmed to the fields the engine reads or writes.

type envelope[T any] struct {
	Errors []apiError `json:"errors"`
	Data   []T        `json:"data"`
}

type apiError struct {
	Description string `json:"description"`
}

type metadata struct {
	Name string `json:"name"`
}

type resourceRef struct {
	RID   string `json:"rid"`
	RType string `json:"rtype"`
}

type device struct {
	ID       string        `json:"id"`
	Metadata metadata      `json:"metadata"`
	Services []resourceRef `json:"services"`
}

type entertainmentChannel struct {
	ChannelID uint8 `json:"channel_id"`
}

type entertainmentConfiguration struct {
	ID       string                 `json:"id"`
	Metadata metadata               `json:"metadata"`
	Status   string                 `json:"status"`
	Channels []entertainmentChannel `json:"channels"`
}

type entertainmentAction struct {
	Action string `json:"action"`
}

type onState struct {
	On bool `json:"on"`
}

type dimming struct {
	Brightness float64 `json:"brightness"`
}

type xy struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type colorXY struct {
	XY xy `json:"xy"`
}

type dynamics struct {
	Duration int64 `json:"duration"` // milliseconds
}

type lightUpdate struct {
	On       *onState  `json:"on,omitempty"`
	Dimming  *dimming  `json:"dimming,omitempty"`
	Color    *colorXY  `json:"color,omitempty"`
	Dynamics *dynamics `json:"dynamics,omitempty"`
}

type registerRequest struct {
	DeviceType        string `json:"devicetype"`
	GenerateClientKey bool   `json:"generateclientkey"`
}

type registerResult struct {
	Success *struct {
		Username  string `json:"username"`
		ClientKey string `json:"clientkey"`
	} `json:"success"`
	Error *struct {
		Type        int    `json:"type"`
		Description string `json:"description"`
	} `json:"error"`
}
