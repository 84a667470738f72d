package protocol

import (
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

func GetSockAddress() string {
	if addr := os.Getenv("CAMREC_SOCKET"); addr != "" {
		return addr
	}
	return "/var/run/camrec.sock"
}

type Action string

const (
	ActionSnapshot Action = "SNAPSHOT"
	ActionStart    Action = "START"
	ActionStop     Action = "STOP"
	ActionEnable   Action = "ENABLE"
	ActionStatus   Action = "STATUS"
	ActionControl  Action = "CONTROL"
	ActionSettings Action = "SETTINGS"
)

type Req struct {
	Action Action            `json:"action"`
	Params map[string]string `json:"params"`
}

type StartReq struct {
	Path string
}

type StopReq struct {
	Wait bool
}

type EnableReq struct {
	State bool
}

type ControlReq struct {
	Name  string
	Value int32
}

type SettingsReq struct {
	File    string
	Setting string
}

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

type Res struct {
	Status Status            `json:"status"`
	Error  string            `json:"error"`
	Extras map[string]string `json:"extras"`
}

func ReadReq(r io.Reader) (*Req, error) {
	var req Req
	err := json.NewDecoder(r).Decode(&req)
	return &req, err
}

func ReadRes(r io.Reader) (*Res, error) {
	var res Res
	err := json.NewDecoder(r).Decode(&res)
	return &res, err
}

func ToStartReq(req *Req) *StartReq {
	return &StartReq{Path: req.Params["path"]}
}

// ToStopReq defaults to waiting for the writer.
func ToStopReq(req *Req) *StopReq {
	wait, err := strconv.ParseBool(req.Params["wait"])
	if err != nil {
		wait = true
	}
	return &StopReq{Wait: wait}
}

func ToEnableReq(req *Req) *EnableReq {
	state, _ := strconv.ParseBool(req.Params["state"])
	return &EnableReq{State: state}
}

func ToControlReq(req *Req) (*ControlReq, error) {
	name := req.Params["name"]
	if name == "" {
		return nil, errors.New("control name not set")
	}
	value, err := strconv.ParseInt(req.Params["value"], 10, 32)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid value for %s", name)
	}
	return &ControlReq{Name: name, Value: int32(value)}, nil
}

// ToSettingsReq defaults to the "standard" setting.
func ToSettingsReq(req *Req) (*SettingsReq, error) {
	file := req.Params["file"]
	if file == "" {
		return nil, errors.New("settings file not set")
	}
	setting := req.Params["setting"]
	if setting == "" {
		setting = "standard"
	}
	return &SettingsReq{File: file, Setting: setting}, nil
}

func WriteReq(w io.Writer, action Action, params map[string]string) error {
	req := Req{
		Action: action,
		Params: params,
	}
	return json.NewEncoder(w).Encode(&req)
}

func WriteStartReq(w io.Writer, path string) error {
	return WriteReq(w, ActionStart, map[string]string{"path": path})
}

func WriteStopReq(w io.Writer, wait bool) error {
	return WriteReq(w, ActionStop, map[string]string{"wait": strconv.FormatBool(wait)})
}

func WriteEnableReq(w io.Writer, state bool) error {
	return WriteReq(w, ActionEnable, map[string]string{"state": strconv.FormatBool(state)})
}

func WriteControlReq(w io.Writer, name string, value int32) error {
	return WriteReq(w, ActionControl, map[string]string{"name": name, "value": strconv.FormatInt(int64(value), 10)})
}

func WriteSettingsReq(w io.Writer, file, setting string) error {
	return WriteReq(w, ActionSettings, map[string]string{"file": file, "setting": setting})
}

func WriteSuccessRes(w io.Writer, extras map[string]string) error {
	res := Res{
		Status: StatusSuccess,
		Extras: extras,
	}
	return json.NewEncoder(w).Encode(&res)
}

func WriteErrorRes(w io.Writer, err error) error {
	res := Res{
		Status: StatusError,
		Error:  err.Error(),
	}
	return json.NewEncoder(w).Encode(&res)
}
