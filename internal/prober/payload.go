package prober

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flexBool accepts true/false, "1"/"0", "true"/"false" and numbers.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	*b = flexBool(truthy(data))
	return nil
}

// flexNumber accepts a JSON number or a numeric string; anything else is
// treated as absent.
type flexNumber struct {
	v  float64
	ok bool
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err == nil {
		n.v, n.ok = f, true
	}
	return nil
}

func (n flexNumber) intPtr() *int {
	if !n.ok {
		return nil
	}
	i := int(n.v)
	return &i
}

func (n flexNumber) floatPtr() *float64 {
	if !n.ok {
		return nil
	}
	f := n.v
	return &f
}

func (n flexNumber) String() string {
	if !n.ok {
		return ""
	}
	return strconv.FormatFloat(n.v, 'f', -1, 64)
}

// flexString accepts a string or renders any other scalar as text.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	*s = flexString(data)
	return nil
}

// bustedFlag is either a boolean or the reason the server is busted.
type bustedFlag struct {
	set    bool
	reason string
}

func (f *bustedFlag) UnmarshalJSON(data []byte) error {
	var reason string
	if err := json.Unmarshal(data, &reason); err == nil {
		switch strings.ToLower(strings.TrimSpace(reason)) {
		case "", "0", "false":
			return nil
		}
		f.set, f.reason = true, reason
		return nil
	}
	f.set = truthy(data)
	return nil
}

type statusPayload struct {
	IsSetup  flexBool `json:"isSetup"`
	IsBusted flexBool `json:"isBusted"`
	Status   *struct {
		IsSetup     flexBool   `json:"isSetup"`
		IsBusted    bustedFlag `json:"isBusted"`
		Users       flexNumber `json:"users"`
		Guests      flexNumber `json:"guests"`
		SysLoad     flexNumber `json:"sysload"`
		SysProcs    flexNumber `json:"sysprocs"`
		MemFree     flexNumber `json:"memfree"`
		MemTotal    flexNumber `json:"memtotal"`
		DBUsed      flexNumber `json:"dbused"`
		Uptime      flexString `json:"uptime"`
		Stamp       flexNumber `json:"surveyRunningStamp"`
		NewVersion  flexString `json:"newVersion"`
		Phase       flexString `json:"phase"`
		Environment flexString `json:"environment"`
	} `json:"status"`
}

func truthy(data []byte) bool {
	s := strings.ToLower(strings.Trim(strings.TrimSpace(string(data)), `"`))
	switch s {
	case "", "0", "false", "null":
		return false
	case "1", "true":
		return true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f != 0
	}
	return false
}
