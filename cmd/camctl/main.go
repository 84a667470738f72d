package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"sort"
	"strconv"

	"github.com/abihf/camrec/capture"
	"github.com/abihf/camrec/config"
	"github.com/abihf/camrec/protocol"
)

func main() {
	if len(os.Args) < 2 {
		help()
	}

	conn, err := net.Dial("unix", config.SocketPath())
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	switch os.Args[1] {
	case "snapshot":
		err = protocol.WriteReq(conn, protocol.ActionSnapshot, nil)
	case "start":
		path := ""
		if len(os.Args) > 2 {
			path = os.Args[2]
		}
		err = protocol.WriteStartReq(conn, path)
	case "stop":
		wait := !(len(os.Args) > 2 && os.Args[2] == "--nowait")
		err = protocol.WriteStopReq(conn, wait)
	case "enable":
		err = protocol.WriteEnableReq(conn, true)
	case "disable":
		err = protocol.WriteEnableReq(conn, false)
	case "status":
		err = protocol.WriteReq(conn, protocol.ActionStatus, nil)
	case "zoom":
		err = protocol.WriteControlReq(conn, capture.ControlZoom, intArg(2))
	case "pan":
		err = protocol.WriteControlReq(conn, capture.ControlPan, intArg(2))
	case "tilt":
		err = protocol.WriteControlReq(conn, capture.ControlTilt, intArg(2))
	case "control":
		if len(os.Args) < 4 {
			help()
		}
		err = protocol.WriteControlReq(conn, os.Args[2], intArg(3))
	case "settings":
		if len(os.Args) < 3 {
			help()
		}
		setting := ""
		if len(os.Args) > 3 {
			setting = os.Args[3]
		}
		err = protocol.WriteSettingsReq(conn, os.Args[2], setting)
	default:
		help()
	}
	if err != nil {
		log.Fatal(err)
	}

	res, err := protocol.ReadRes(conn)
	if err != nil {
		log.Fatal(err)
	}
	if res.Status != protocol.StatusSuccess {
		log.Fatalf("%s: %s", res.Status, res.Error)
	}

	keys := make([]string, 0, len(res.Extras))
	for k := range res.Extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %s\n", k, res.Extras[k])
	}
}

func intArg(i int) int32 {
	if len(os.Args) <= i {
		help()
	}
	v, err := strconv.ParseInt(os.Args[i], 10, 32)
	if err != nil {
		log.Fatalf("Invalid value %q: %v", os.Args[i], err)
	}
	return int32(v)
}

func help() {
	log.Fatalf("Usage: %s <snapshot|start [path template]|stop [--nowait]|enable|disable|status|"+
		"zoom <v>|pan <v>|tilt <v>|control <name> <v>|settings <file> [setting]>", os.Args[0])
}
