package main

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/logrusorgru/aurora"
	"github.com/padgrid/midicore/internal/pkg/logger"
)

type TimeNanosecond time.Time

func (j *TimeNanosecond) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*j = TimeNanosecond(time.Unix(0, v))
	return nil
}

func (j TimeNanosecond) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(j))
}

type Entry struct {
	Ts     TimeNanosecond `json:"ts"`
	Caller string         `json:"caller"`
	Msg    string         `json:"msg"`
	Level  int            `json:"level"`

	Device     string `json:"device_name"`
	DeviceType string `json:"device_type"`
	Profile    string `json:"profile"`
	Target     string `json:"target"`
	Context    string `json:"context"`
	Strategy   string `json:"strategy"`
}

func unpack(data []byte) (Entry, error) {
	var v Entry
	err := json.Unmarshal(data, &v)
	return v, err
}

func gray(v uint8) aurora.Color {
	if v > 23 {
		v = 23
	}
	return aurora.Color(232+v) << 16
}

func color(r, g, b uint8) aurora.Color {
	return aurora.Color(16+36*r+6*g+b) << 16
}

// returns random color for string, will return the same color for the same string
func colorForString(au aurora.Aurora, s string) aurora.Value {
	h := fnv.New32a()
	h.Write([]byte(s))
	sum := h.Sum32()

	r, g, b := uint8(sum)&0b00000111, uint8(sum>>8)&0b00000111, uint8(sum>>16)&0b00000111
	if r > 5 {
		r = 5
	}
	if g > 5 {
		g = 5
	}
	if b > 5 {
		b = 5
	}

	// avoid dark colors
	if r+g+b < 3 {
		r += 1
		g += 1
		b += 1
	}

	return au.Index(16+36*r+6*g+b, s)
}

func prepareString(msg Entry, au aurora.Aurora, logLevel int) string {
	if msg.Level > logLevel {
		return ""
	}

	var msgColor aurora.Color

	switch msg.Level {
	case logger.ErrorLvl:
		msgColor = color(5, 1, 1)
	case logger.WarningLvl:
		msgColor = color(5, 5, 1)
	case logger.InfoLvl:
		msgColor = gray(18)
	case logger.MessageLvl:
		msgColor = gray(13)
	case logger.DebugLvl:
		msgColor = gray(9)
	}

	t := time.Time(msg.Ts)
	timestamp := fmt.Sprintf(
		"[%s]",
		au.Reset(t.Format("15:04:05.000")).Colorize(color(1, 1, 5)).String(),
	)

	fields := ""
	if msg.Profile != "" {
		fields += fmt.Sprintf(" [profile=%s]", colorForString(au, msg.Profile).String())
	}
	if msg.Target != "" {
		fields += fmt.Sprintf(" [target=%s]", colorForString(au, msg.Target).String())
	}
	if msg.DeviceType != "" {
		fields += fmt.Sprintf(" [type=%s]", colorForString(au, msg.DeviceType).String())
	}
	if msg.Device != "" {
		fields += fmt.Sprintf(" [dev=%s]", colorForString(au, msg.Device).String())
	}
	if msg.Strategy != "" {
		fields += fmt.Sprintf(" [strategy=%s]", colorForString(au, msg.Strategy).String())
	}
	if msg.Context != "" {
		fields += fmt.Sprintf(" [%s]", msg.Context)
	}
	if logLevel >= logger.DebugLvl && msg.Caller != "" {
		x := strings.SplitN(msg.Caller, ":", 2)
		if len(x) == 2 {
			fields += fmt.Sprintf(" (%s:%s)", colorForString(au, x[0]).String(), x[1])
		}
	}

	if fields != "" {
		fields = fields[1:] // removing one space at the beginning
	}

	m := au.Reset(msg.Msg).Colorize(msgColor).String()
	return fmt.Sprintf("%s %s %s", timestamp, m, fields)
}

// consolePump renders encoded log entries to stdout until the
// logger channel is closed.
func consolePump(silent, noColor bool, logLevel int) {
	if silent {
		for range logger.Messages {
		}
		return
	}

	au := aurora.NewAurora(!noColor)
	for data := range logger.Messages {
		msg, err := unpack(data)
		if err != nil {
			fmt.Printf("%s\n", string(data))
			continue
		}
		m := prepareString(msg, au, logLevel)
		if m != "" {
			fmt.Printf("%s\n", m)
		}
	}
}
