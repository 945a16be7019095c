// Command scoutsh is an interactive REPL for driving a scout by hand,
// grounded on the teacher's cmd/docdbsh (shell.go's stateful command
// dispatch, main.go's prompt loop) but reworked around liner for
// history-aware line editing instead of a bare bufio.Reader, the same way
// the teacher's own go.mod declares peterh/liner as a direct dependency.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/peterh/liner"

	"github.com/seasidesky/swiftscout/internal/config"
	"github.com/seasidesky/swiftscout/internal/crdt"
	"github.com/seasidesky/swiftscout/internal/ids"
	"github.com/seasidesky/swiftscout/internal/logger"
	"github.com/seasidesky/swiftscout/internal/rpc"
	"github.com/seasidesky/swiftscout/internal/scout"
	"github.com/seasidesky/swiftscout/internal/txn"
)

const prompt = "scout> "

func main() {
	address := flag.String("address", "", "surrogate address to dial; empty uses an in-process fake surrogate")
	cacheSize := flag.Int("cache-size", 1000, "object cache capacity")
	logLevel := flag.String("log-level", "info", "debug|info|warn|error")
	flag.Parse()

	log := logger.New(os.Stderr, logger.ParseLevel(*logLevel), "scoutsh")

	var surrogate rpc.Surrogate
	if *address == "" {
		fmt.Println("scoutsh: no -address given, using an in-process fake surrogate")
		surrogate = rpc.NewFakeSurrogate()
	} else {
		fmt.Printf("scoutsh: dialing %s...\n", *address)
		surrogate = rpc.Dial(*address)
	}

	cfg := config.DefaultConfig()
	cfg.Cache.CacheSize = *cacheSize

	sc, err := scout.New(cfg, surrogate, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scoutsh: creating scout: %v\n", err)
		os.Exit(1)
	}
	sc.Start()
	defer sc.Stop(true)

	sh := newShell(sc)
	defer sh.close()

	fmt.Printf("Connected as scout %s. Type .help for commands.\n\n", sc.ID())
	sh.run()
}

// shell holds everything the REPL needs between commands: the scout, the
// one session it drives, and whichever transaction handle is currently
// open (at most one, matching the default concurrentOpenTransactions=false
// configuration).
type shell struct {
	scout   *scout.Scout
	session *scout.Session
	line    *liner.State

	txn *scout.TxnHandle
}

func newShell(sc *scout.Scout) *shell {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	return &shell{
		scout:   sc,
		session: sc.NewSession(ids.NewSessionID()),
		line:    line,
	}
}

func (s *shell) close() {
	s.line.Close()
}

func (s *shell) run() {
	for {
		input, err := s.line.Prompt(prompt)
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println()
				return
			}
			fmt.Fprintf(os.Stderr, "scoutsh: %v\n", err)
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		s.line.AppendHistory(input)

		fields := strings.Fields(input)
		cmd, args := fields[0], fields[1:]

		if cmd == ".exit" || cmd == ".quit" {
			return
		}
		if handler, ok := dispatch[cmd]; ok {
			if err := handler(s, args); err != nil {
				fmt.Println("ERROR:", err)
			}
		} else {
			fmt.Printf("unrecognised command %q; try .help\n", cmd)
		}
	}
}

var dispatch = map[string]func(*shell, []string) error{
	".help":     (*shell).cmdHelp,
	".begin":    (*shell).cmdBegin,
	".get":      (*shell).cmdGet,
	".put":      (*shell).cmdPut,
	".commit":   (*shell).cmdCommit,
	".rollback": (*shell).cmdRollback,
	".status":   (*shell).cmdStatus,
}

func (s *shell) cmdHelp(_ []string) error {
	fmt.Println(`Scout shell commands:
  .begin [si|rr] [cached|recent|strict] [ro]   open a transaction (default si cached)
  .get <table> <key> <type> [create]           read an object (type: counter|lww-register)
  .put <table> <key> counter <delta>           buffer a counter increment/decrement
  .put <table> <key> lww-register <value>      buffer a register write
  .commit                                      commit the open transaction
  .rollback                                    discard the open transaction
  .status                                      print scout/cache/transaction status
  .exit                                        leave the shell`)
	return nil
}

func (s *shell) cmdBegin(args []string) error {
	if s.txn != nil {
		return fmt.Errorf("a transaction is already open (commit or rollback first)")
	}

	isolation := txn.SnapshotIsolation
	policy := scout.Cached
	readOnly := false

	for _, a := range args {
		switch strings.ToLower(a) {
		case "si":
			isolation = txn.SnapshotIsolation
		case "rr":
			isolation = txn.RepeatableRead
		case "cached":
			policy = scout.Cached
		case "recent":
			policy = scout.MostRecent
		case "strict":
			policy = scout.StrictlyMostRecent
		case "ro":
			readOnly = true
		default:
			return fmt.Errorf("unrecognised .begin argument %q", a)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h, err := s.session.BeginTxn(ctx, isolation, policy, readOnly)
	if err != nil {
		return err
	}
	s.txn = h
	fmt.Printf("began %s transaction %v\n", isolation, h.Timestamp())
	return nil
}

func (s *shell) cmdGet(args []string) error {
	if s.txn == nil {
		return fmt.Errorf("no open transaction; .begin first")
	}
	if len(args) < 3 {
		return fmt.Errorf("usage: .get <table> <key> <type> [create]")
	}
	id := ids.ObjectID{Table: args[0], Key: args[1], TypeTag: args[2]}
	create := len(args) > 3 && strings.EqualFold(args[3], "create")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	value, err := s.txn.Get(ctx, id, create, nil)
	if err != nil {
		return err
	}
	fmt.Println(describeValue(value))
	return nil
}

func (s *shell) cmdPut(args []string) error {
	if s.txn == nil {
		return fmt.Errorf("no open transaction; .begin first")
	}
	if len(args) < 4 {
		return fmt.Errorf("usage: .put <table> <key> <type> <value-or-delta>")
	}
	id := ids.ObjectID{Table: args[0], Key: args[1], TypeTag: args[2]}

	var op interface{}
	switch args[2] {
	case "counter":
		delta, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			return fmt.Errorf("counter delta must be an integer: %w", err)
		}
		op = crdt.CounterOp{Source: s.scout.ID(), Delta: delta}
	case "lww-register":
		op = crdt.RegisterOp{
			Priority: uint64(time.Now().UnixNano()),
			Source:   s.scout.ID(),
			Value:    []byte(strings.Join(args[3:], " ")),
		}
	default:
		return fmt.Errorf("unknown type %q (want counter|lww-register)", args[2])
	}

	if err := s.txn.Put(id, op); err != nil {
		return err
	}
	fmt.Println("OK (buffered)")
	return nil
}

func (s *shell) cmdCommit(_ []string) error {
	if s.txn == nil {
		return fmt.Errorf("no open transaction")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := s.txn.Commit(ctx)
	s.txn = nil
	if err != nil {
		return err
	}
	fmt.Println("committed")
	return nil
}

func (s *shell) cmdRollback(_ []string) error {
	if s.txn == nil {
		return fmt.Errorf("no open transaction")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := s.txn.Rollback(ctx)
	s.txn = nil
	if err != nil {
		return err
	}
	fmt.Println("rolled back")
	return nil
}

func (s *shell) cmdStatus(_ []string) error {
	stats := s.scout.CacheStats()
	fmt.Printf("scout id:          %s\n", s.scout.ID())
	fmt.Printf("committed version: %s\n", s.scout.CommittedVersion())
	fmt.Printf("pending txns:      %s\n", humanize.Comma(int64(s.scout.PendingCount())))
	fmt.Printf("cache entries:     %s (protected %s)\n", humanize.Comma(int64(stats.Cached)), humanize.Comma(int64(stats.Protected)))
	fmt.Printf("cache hits/misses: %s / %s\n", humanize.Comma(int64(stats.Hits)), humanize.Comma(int64(stats.Misses)))
	fmt.Printf("cache evictions:   %s (sweeps %s)\n", humanize.Comma(int64(stats.Evictions)), humanize.Comma(int64(stats.Sweeps)))
	if s.txn != nil {
		fmt.Printf("open transaction:  %v (%s)\n", s.txn.Timestamp(), s.txn.GetStatus())
	} else {
		fmt.Println("open transaction:  none")
	}
	return nil
}

// describeValue renders a crdt.Value the way a human at the shell wants to
// see it; the scout core otherwise treats CRDT payloads as opaque.
func describeValue(v crdt.Value) string {
	switch val := v.(type) {
	case *crdt.Counter:
		return fmt.Sprintf("counter = %d", val.Value())
	case *crdt.LWWRegister:
		if raw, ok := val.Get(); ok {
			if b, ok := raw.([]byte); ok {
				return fmt.Sprintf("lww-register = %q", string(b))
			}
			return fmt.Sprintf("lww-register = %v", raw)
		}
		return "lww-register = <unset>"
	default:
		return fmt.Sprintf("%v", v)
	}
}
