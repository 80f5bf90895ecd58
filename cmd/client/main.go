package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/DoyleJ11/seabattle-client/internal/config"
	"github.com/DoyleJ11/seabattle-client/internal/endpoint"
	"github.com/DoyleJ11/seabattle-client/internal/engine"
	"github.com/DoyleJ11/seabattle-client/internal/localstore"
	"github.com/DoyleJ11/seabattle-client/internal/logging"
	"github.com/DoyleJ11/seabattle-client/internal/phase"
	"github.com/DoyleJ11/seabattle-client/internal/room"
	"github.com/DoyleJ11/seabattle-client/internal/session"
	"github.com/DoyleJ11/seabattle-client/internal/transport"
)

func main() {
	create := flag.String("create", "", "create a session in this mode (classic, fast, full)")
	roomCode := flag.String("room", "", "join the session behind a room code")
	sessionID := flag.String("session", "", "open a session by id")
	start := flag.String("start", "", "launch parameter (room-CODE or game-ID)")
	account := flag.String("account", "", "account id")
	name := flag.String("name", "", "display name")
	auto := flag.Bool("auto", false, "auto-place units and ready up")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Production())
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := localstore.Open(cfg.StorePath)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	ep := endpoint.NewResolver(cfg.Origins(), endpoint.HTTPProber{}, cfg.ProbeTimeout, logger)
	api := transport.NewClient(ep, transport.Options{
		RequestTimeout: cfg.RequestTimeout,
		Retry: transport.RetryPolicy{
			MaxAttempts: cfg.RequestMaxAttempts,
			Backoff:     cfg.RequestBackoff,
			Retryable:   transport.IdempotentNetworkErrors,
		},
		Push: transport.PushPolicy{
			Origin:      cfg.PushOrigin,
			MaxAttempts: cfg.PushMaxAttempts,
			Backoff:     cfg.PushBackoff,
		},
		Log: logger,
	})
	rooms := room.NewResolver(api, store, room.Options{
		BotUsername:  cfg.BotUsername,
		PollInterval: cfg.RoomPollInterval,
		Log:          logger,
	})
	mgr := session.New(ctx, api, rooms, session.Options{
		Account: room.Account{ID: *account, DisplayName: *name},
		Log:     logger,
	})
	defer mgr.Close()

	go printNotices(ctx, mgr)
	mgr.OnTransition(func(tr phase.Transition) {
		fmt.Printf("phase: %s -> %s\n", tr.From, tr.To)
		if tr.To == engine.PhaseSetup && *auto {
			go autoSetup(ctx, mgr)
		}
	})

	v, err := open(ctx, mgr, *create, *roomCode, *sessionID, *start)
	if err != nil {
		logger.Fatal("open session", zap.Error(err))
	}
	fmt.Printf("session %s as %s (%s)\n", v.SessionID, v.Local, v.Phase)
	if *auto && v.Phase == engine.PhaseMatchmaking {
		if _, err := mgr.Ready(ctx); err != nil {
			logger.Warn("ready", zap.Error(err))
		}
	}
	if *auto && v.Phase == engine.PhaseSetup {
		go autoSetup(ctx, mgr)
	}

	go watch(ctx, mgr)
	readCommands(ctx, mgr)
}

func open(ctx context.Context, mgr *session.Manager, mode, code, id, start string) (engine.View, error) {
	switch {
	case mode != "":
		created, v, err := mgr.Create(ctx, mode)
		if err == nil && created.RoomCode != "" {
			fmt.Printf("room %s %s\n", created.RoomCode, created.InviteLink)
		}
		return v, err
	case code != "":
		return mgr.OpenRoom(ctx, code)
	case id != "":
		return mgr.Open(ctx, id)
	case start != "":
		return mgr.OpenStartParam(ctx, start)
	}
	return engine.View{}, errors.New("one of -create, -room, -session or -start is required")
}

func autoSetup(ctx context.Context, mgr *session.Manager) {
	if _, err := mgr.AutoPlace(ctx); err != nil {
		fmt.Println("auto place:", err)
	}
}

func printNotices(ctx context.Context, mgr *session.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-mgr.Notices():
			if n.Reload {
				fmt.Printf("! %s (reload to retry)\n", n.Message)
			} else {
				fmt.Printf("! %s\n", n.Message)
			}
		}
	}
}

func watch(ctx context.Context, mgr *session.Manager) {
	views, err := mgr.Watch(ctx, "cli")
	if err != nil {
		return
	}
	var last engine.Revision
	for v := range views {
		if v.Revision == last {
			continue
		}
		last = v.Revision
		switch {
		case v.Terminated():
			fmt.Printf("game over: winner=%q surrendered=%q deleted=%v\n", v.Winner, v.Surrendered, v.Deleted)
		case v.Phase == engine.PhaseBattle:
			if v.LastAction != nil {
				fmt.Printf("%s shot (%d,%d): %s\n", v.LastAction.Slot, v.LastAction.Row, v.LastAction.Col, v.LastAction.Result)
			}
			if v.MyTurn() {
				fmt.Println("your turn: attack ROW COL")
			}
		}
	}
}

// readCommands handles stdin lines: attack ROW COL, ready, auto, surrender, leave.
func readCommands(ctx context.Context, mgr *session.Manager) {
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = l
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "attack":
			if len(fields) != 3 {
				fmt.Println("usage: attack ROW COL")
				continue
			}
			row, rerr := strconv.Atoi(fields[1])
			col, cerr := strconv.Atoi(fields[2])
			if rerr != nil || cerr != nil {
				fmt.Println("usage: attack ROW COL")
				continue
			}
			_, err = mgr.Attack(ctx, row, col)
		case "ready":
			_, err = mgr.Ready(ctx)
		case "auto":
			_, err = mgr.AutoPlace(ctx)
		case "surrender":
			_, err = mgr.Surrender(ctx)
		case "leave":
			if err := mgr.Leave(ctx); err != nil {
				fmt.Println(err)
			}
			return
		default:
			fmt.Println("commands:", mgr.Commands())
			continue
		}
		if err != nil {
			fmt.Println("error:", err)
		}
	}
}
