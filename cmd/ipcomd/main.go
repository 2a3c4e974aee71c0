// ipcomd is the daemon entry point: it dials one IPCom bus gateway,
// keeps the session alive under the supervisor, and streams observed
// changes to stdout as line-delimited JSON (spec.md §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blitter.com/go/ipcomgw/command"
	"blitter.com/go/ipcomgw/devicemap"
	"blitter.com/go/ipcomgw/engine"
	"blitter.com/go/ipcomgw/logger"
	"blitter.com/go/ipcomgw/observer"
	"blitter.com/go/ipcomgw/session"
	"blitter.com/go/ipcomgw/streamline"
	"blitter.com/go/ipcomgw/supervisor"
)

// Exit codes, per spec.md §6: 0 success, 1 connection/authentication
// failure, 2 argument or mapping error.
const (
	exitOK = iota
	exitConnection
	exitArgument
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		host          string
		port          int
		username      string
		password      string
		bus           uint
		addressBase   uint
		wireBus       uint
		mode          string
		remoteHost    string
		remotePort    int
		healthTimeout time.Duration
		dbg           bool
	)

	flag.StringVar(&host, "host", "", "IPCom gateway host (required)")
	flag.IntVar(&port, "port", 5000, "IPCom gateway port")
	flag.StringVar(&username, "user", "", "login username (required)")
	flag.StringVar(&password, "pass", "", "login password (required)")
	flag.UintVar(&bus, "bus", 1, "bus number sent in the connect request")
	flag.UintVar(&addressBase, "address-base", command.DefaultAddressBase, "wire address base added to (module-1) for write frames")
	flag.UintVar(&wireBus, "wire-bus", 0, "leading bus-number byte prefixed to write frames, 0 for none")
	flag.StringVar(&mode, "mode", "local", "connection preference: local, remote, or both")
	flag.StringVar(&remoteHost, "remote-host", "", "alternate (remote) gateway host, used when -mode is remote or both")
	flag.IntVar(&remotePort, "remote-port", 5000, "alternate (remote) gateway port")
	flag.DurationVar(&healthTimeout, "health-timeout", 120*time.Second, "restart the session after this long without inbound bytes")
	flag.BoolVar(&dbg, "d", false, "debug logging")
	flag.Parse()

	if host == "" || username == "" || password == "" {
		fmt.Fprintln(os.Stderr, "ipcomd: -host, -user, and -pass are required")
		return exitArgument
	}

	logPriority := logger.LOG_INFO
	if dbg {
		logPriority = logger.LOG_DEBUG
	}
	if _, err := logger.New(logPriority|logger.LOG_DAEMON, "ipcomd"); err != nil {
		fmt.Fprintln(os.Stderr, "ipcomd: logger unavailable:", err)
	}
	defer logger.LogClose()

	supMode := supervisor.LocalOnly
	switch mode {
	case "local":
		supMode = supervisor.LocalOnly
	case "remote":
		supMode = supervisor.RemoteOnly
		if remoteHost == "" {
			fmt.Fprintln(os.Stderr, "ipcomd: -mode remote requires -remote-host")
			return exitArgument
		}
	case "both":
		supMode = supervisor.Both
		if remoteHost == "" {
			fmt.Fprintln(os.Stderr, "ipcomd: -mode both requires -remote-host")
			return exitArgument
		}
	default:
		fmt.Fprintln(os.Stderr, "ipcomd: -mode must be local, remote, or both")
		return exitArgument
	}

	sessCfg := session.Config{
		Username:          username,
		Password:          password,
		Bus:               byte(bus),
		ModuleAddressBase: byte(addressBase),
		WireBusNumber:     byte(wireBus),
	}

	var obs observer.Surface
	enc := streamline.NewEncoder(os.Stdout, devicemap.New())
	enc.Attach(&obs)

	obs.OnConnect(func(state session.State) {
		logger.LogInfo("ipcomd: session established (" + state.String() + ")")
	})
	obs.OnDisconnect(func(err error) {
		msg := "ipcomd: session disconnected"
		if err != nil {
			msg += ": " + err.Error()
		}
		logger.LogWarning(msg)
	})

	svCfg := supervisor.Config{
		Local:         supervisor.Endpoint{Host: host, Port: port},
		Remote:        supervisor.Endpoint{Host: remoteHost, Port: remotePort},
		Mode:          supMode,
		HealthTimeout: healthTimeout,
	}
	sv := supervisor.New(svCfg, sessCfg, engine.Config{}, &obs)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.LogInfo("ipcomd: shutting down")
		cancel()
	}()

	if err := enc.WriteInitialState(host, time.Now()); err != nil {
		logger.LogWarning("ipcomd: failed writing initial state: " + err.Error())
	}

	if err := sv.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ipcomd:", err)
		return exitConnection
	}
	return exitOK
}
