package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"vcam-daemon/internal/ipc"
	"vcam-daemon/internal/platform/config"

	"github.com/gorilla/websocket"
)

// vcamctl is the controlling-application side of the notification protocol:
// it persists the fields it owns in the shared status record, nudges the
// daemon with best-effort signals, and evaluates daemon health from the
// record alone, so it keeps working when the daemon is unreachable.

const usage = `usage: vcamctl <command> [args]

commands:
  start                 request the daemon keep the camera on
  stop                  release the app's claim on the camera
  switch-device <id>    persist a device selection and request a switch
  auto-start <on|off>   set the auto-start preference
  status                print the shared status record
  health                evaluate daemon health from the status record
`

func main() {
	_ = config.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	sharedDir := config.GetEnv("SHARED_DIR", defaultSharedDir())
	daemonAddr := config.GetEnv("VCAMD_ADDR", "localhost:8590")
	heartbeatTimeout := config.GetEnvDuration("HEARTBEAT_TIMEOUT", ipc.DefaultHeartbeatTimeout)

	status := ipc.NewStatusStore(sharedDir)

	switch os.Args[1] {
	case "start":
		sendSignal(daemonAddr, ipc.SignalRequestStart)
	case "stop":
		sendSignal(daemonAddr, ipc.SignalRequestStop)
	case "switch-device":
		if len(os.Args) < 3 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		id := os.Args[2]
		if err := status.Update(func(rec *ipc.Status) { rec.SelectedDeviceID = id }); err != nil {
			fatal("persist device selection: %v", err)
		}
		sendSignal(daemonAddr, ipc.SignalRequestSwitchDevice)
	case "auto-start":
		if len(os.Args) < 3 || (os.Args[2] != "on" && os.Args[2] != "off") {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		enabled := os.Args[2] == "on"
		if err := status.Update(func(rec *ipc.Status) { rec.AutoStartEnabled = enabled }); err != nil {
			fatal("persist auto-start preference: %v", err)
		}
	case "status":
		out, err := json.MarshalIndent(status.Read(), "", "  ")
		if err != nil {
			fatal("encode status: %v", err)
		}
		fmt.Println(string(out))
	case "health":
		h := ipc.EvaluateHealth(status.Read(), time.Now(), heartbeatTimeout)
		fmt.Println(string(h))
		if h != ipc.HealthHealthy {
			os.Exit(1)
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// sendSignal delivers one best-effort signal over the daemon's WebSocket
// channel. Failure to deliver is reported but not fatal: the daemon converges
// from the shared records on its own schedule.
func sendSignal(addr string, sig ipc.Signal) {
	url := "ws://" + addr + "/ipc/signals"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: daemon unreachable at %s, signal %q not delivered\n", addr, sig)
		return
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(sig)); err != nil {
		fmt.Fprintf(os.Stderr, "warning: signal %q not delivered: %v\n", sig, err)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func defaultSharedDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.vcam/shared"
	}
	return "./vcam-shared"
}
