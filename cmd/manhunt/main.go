package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"manhunt/internal/history"
	"manhunt/internal/protocol"
	"manhunt/internal/rendezvous"
	"manhunt/internal/session"
	"manhunt/internal/telemetry"
	"manhunt/pkg/types"
)

func main() {
	signalURL := flag.String("signal", "ws://localhost:8090/signal", "signaling server url")
	name := flag.String("name", "player", "display name")
	lat := flag.Float64("lat", 52.0, "fixed latitude (no GPS in the cli)")
	long := flag.Float64("long", 4.3, "fixed longitude")
	metrics := flag.String("metrics", "", "serve prometheus metrics on this addr (optional)")
	inproc := flag.Bool("inproc", false, "use in-process rendezvous (for single-process demos)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := types.DefaultConfig()
	var rdv rendezvous.Rendezvous
	if *inproc {
		rdv = rendezvous.NewMemory()
	} else {
		rdv = rendezvous.NewClient(*signalURL, cfg.SendHighWater)
	}

	if *metrics != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", telemetry.Handler())
			if err := http.ListenAndServe(*metrics, mux); err != nil {
				fmt.Println("metrics server:", err)
			}
		}()
	}

	env := &cli{
		ctx: ctx,
		opts: session.Options{
			Config:   cfg,
			Profile:  protocol.PlayerProfile{DisplayName: *name},
			Rdv:      rdv,
			Store:    history.NewMemoryStore(),
			Location: session.FixedLocation{Lat: *lat, Long: *long},
		},
		settings: protocol.DefaultSettings(),
	}

	fmt.Printf("player: %s\n", *name)
	fmt.Println("type 'help' for commands")
	env.repl()
}

type cli struct {
	ctx      context.Context
	opts     session.Options
	sess     *session.Session
	settings protocol.GameSettings
}

func (c *cli) repl() {
	s := bufio.NewScanner(os.Stdin)
	prompt := func() { fmt.Print("> ") }
	prompt()
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			prompt()
			continue
		}
		args := strings.Fields(line)
		switch strings.ToLower(args[0]) {
		case "help":
			printHelp()
		case "whoami":
			if c.sess == nil {
				fmt.Println("not in a lobby")
			} else {
				fmt.Printf("peer=%s room=%s host=%v\n", c.sess.Self(), c.sess.Code(), c.sess.IsHost())
			}
		case "host":
			if c.sess != nil {
				fmt.Println("already in a lobby; quit first")
				break
			}
			sess, err := session.Host(c.ctx, c.opts)
			if err != nil {
				fmt.Println("error:", err)
				break
			}
			c.sess = sess
			fmt.Println("room code:", sess.Code())
		case "join":
			if len(args) < 2 {
				fmt.Println("usage: join <roomCode>")
				break
			}
			if c.sess != nil {
				fmt.Println("already in a lobby; quit first")
				break
			}
			sess, err := session.Join(c.ctx, protocol.RoomCode(strings.ToUpper(args[1])), c.opts)
			if err != nil {
				fmt.Println("error:", err)
				break
			}
			c.sess = sess
			fmt.Println("joined:", sess.Code())
		case "team":
			// team <seeker|hider>
			if len(args) < 2 || (args[1] != "seeker" && args[1] != "hider") {
				fmt.Println("usage: team <seeker|hider>")
				break
			}
			if !c.inLobby() {
				break
			}
			if err := c.sess.SwitchTeam(c.ctx, args[1] == "seeker"); err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("now a", args[1])
			}
		case "set":
			// set <hidingSeconds> <pingMinutes> <chancePct> <cooldownMinutes>
			if len(args) < 5 {
				fmt.Println("usage: set <hidingSeconds> <pingMinutes> <chancePct> <cooldownMinutes>")
				break
			}
			c.settings.HidingTimeSeconds = uint32(mustU64(args[1]))
			c.settings.PingIntervalMinutes = uint32(mustU64(args[2]))
			c.settings.PowerupChance = uint32(mustU64(args[3]))
			c.settings.PowerupCooldownMinutes = uint32(mustU64(args[4]))
			fmt.Println("staged; 'commit' to replicate")
		case "puloc":
			// puloc <lat> <long> — add a powerup spawn location
			if len(args) < 3 {
				fmt.Println("usage: puloc <lat> <long>")
				break
			}
			loc := protocol.Location{Lat: mustF64(args[1]), Long: mustF64(args[2])}
			c.settings.PowerupLocations = append(c.settings.PowerupLocations, loc)
			fmt.Println("staged", len(c.settings.PowerupLocations), "spawn locations")
		case "commit":
			if !c.inLobby() {
				break
			}
			if err := c.sess.CommitSettings(c.ctx, c.settings); err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("settings committed")
			}
		case "start":
			if !c.inLobby() {
				break
			}
			if err := c.sess.StartGame(c.ctx); err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("game started")
			}
		case "caught":
			if !c.inLobby() {
				break
			}
			if err := c.sess.MarkCaught(c.ctx); err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("reported caught")
			}
		case "grab":
			if !c.inLobby() {
				break
			}
			if err := c.sess.GrabPowerup(c.ctx); err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("grab submitted; merge order decides")
			}
		case "activate":
			if !c.inLobby() {
				break
			}
			if err := c.sess.ActivatePowerup(c.ctx); err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("powerup activated")
			}
		case "end":
			if !c.inLobby() {
				break
			}
			if err := c.sess.EndGame(c.ctx); err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("game ended")
			}
		case "state":
			if !c.inLobby() {
				break
			}
			c.printState()
		case "history":
			recs, err := c.opts.Store.List(c.ctx)
			if err != nil {
				fmt.Println("error:", err)
				break
			}
			if len(recs) == 0 {
				fmt.Println("(no finished games)")
				break
			}
			for _, rec := range recs {
				fmt.Printf("- room=%s events=%d ended=%s\n", rec.Code, len(rec.Events), rec.EndedAt.Format("15:04:05"))
			}
		case "quit", "exit":
			if c.sess != nil {
				c.sess.Close()
			}
			fmt.Println("bye")
			return
		default:
			fmt.Println("unknown command; type 'help'")
		}
		prompt()
	}
}

func (c *cli) inLobby() bool {
	if c.sess == nil {
		fmt.Println("not in a lobby; 'host' or 'join <code>' first")
		return false
	}
	return true
}

func (c *cli) printState() {
	st := c.sess.GameState()
	fmt.Printf("phase=%s players=%d started=%v over=%v\n",
		c.sess.Phase(), len(st.Profiles), st.Started, st.GameOver())
	for p, profile := range st.Profiles {
		role := "hider"
		if st.Caught[p] {
			role = "seeker"
		}
		flags := ""
		if st.Departed[p] {
			flags = " [departed]"
		}
		if held, ok := st.Held[p]; ok {
			flags += fmt.Sprintf(" [holds %s]", held.Kind)
		}
		fmt.Printf(" - %s (%s) %s%s\n", profile.DisplayName, p, role, flags)
	}
	if st.Available != nil {
		fmt.Printf("powerup on map: %s at (%.5f, %.5f)\n", st.Available.ID, st.Available.Loc.Lat, st.Available.Loc.Long)
	}
	if st.LastPing != nil {
		fmt.Printf("last ping: %s at (%.5f, %.5f)\n", st.LastPing.DisplayPlayer, st.LastPing.Loc.Lat, st.LastPing.Loc.Long)
	}
}

func printHelp() {
	fmt.Println(`commands:
  whoami
  host
  join <roomCode>
  team <seeker|hider>
  set <hidingSeconds> <pingMinutes> <chancePct> <cooldownMinutes>
  puloc <lat> <long>
  commit
  start
  caught
  grab
  activate
  end
  state
  history
  quit`)
}

func mustU64(s string) uint64  { v, _ := strconv.ParseUint(s, 10, 64); return v }
func mustF64(s string) float64 { v, _ := strconv.ParseFloat(s, 64); return v }
