package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-rooms/admin"
	"github.com/tcriess/lightspeed-rooms/auth"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/filter"
	"github.com/tcriess/lightspeed-rooms/gateway"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/reclaim"
	"github.com/tcriess/lightspeed-rooms/types"
)

// A simple CLI tool for the administration of lightspeed-rooms: inspect the stored rooms and
// session history, moderate live rooms and replay webhook events.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")

	cliCaller = &types.Caller{Id: "lightspeed-rooms-admin", Name: "admin cli", Role: types.RoleAdmin}
)

func printJSON(v interface{}) {
	ba, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		globals.AppLogger.Error("could not marshal result", "error", err)
		return
	}
	fmt.Println(string(ba))
}

func main() {
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	// subcommand flags are parsed by cobra
	pflag.CommandLine.ParseErrorsWhitelist.UnknownFlags = true

	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}

	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	// the backend is only needed for the live commands
	var issuer *auth.TokenIssuer
	var gw gateway.Gateway
	requireBackend := func() bool {
		if gw != nil {
			return true
		}
		if globalConfig.LiveKitConfig.URL == "" {
			globals.AppLogger.Error("livekit.url is not configured")
			return false
		}
		issuer, err = auth.NewTokenIssuer(globalConfig.LiveKitConfig.APIKey, globalConfig.LiveKitConfig.APISecret, globalConfig.TokenConfig.DefaultTTL)
		if err != nil {
			globals.AppLogger.Error("could not create token issuer", "error", err)
			return false
		}
		gw = gateway.NewClient(globalConfig.LiveKitConfig.URL, issuer, globalConfig.LiveKitConfig.Timeout)
		return true
	}

	var roomFilter string
	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show stored rooms and session history",
		Long:  `show is for printing the rooms, sessions and participants kept by lightspeed-rooms.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Show: " + strings.Join(args, " "))
		},
	}
	var cmdShowRooms = &cobra.Command{
		Use:   "rooms",
		Short: "Show rooms",
		Long:  `show rooms lists all stored rooms. --filter selects rooms with an expression, f.e. 'IdleFor() > 60 && !HasHost'.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			var f *filter.Filter
			if roomFilter != "" {
				compiled, err := filter.Compile(roomFilter)
				if err != nil {
					globals.AppLogger.Error("invalid filter", "error", err)
					return
				}
				f = compiled
			}
			rooms, err := persister.GetRooms(ctx)
			if err != nil {
				globals.AppLogger.Error("could not get rooms", "error", err)
				return
			}
			rooms, err = f.Rooms(rooms, time.Now())
			if err != nil {
				globals.AppLogger.Error("could not apply filter", "error", err)
				return
			}
			printJSON(rooms)
		},
	}
	cmdShowRooms.Flags().StringVarP(&roomFilter, "filter", "f", "", "filter expression")
	var cmdShowRoom = &cobra.Command{
		Use:   "room [room name]",
		Short: "Show room",
		Long:  `show room prints the stored record of the room with the given name.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room, err := persister.GetRoom(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not get room", "error", err)
				return
			}
			printJSON(room)
		},
	}
	var cmdShowSessions = &cobra.Command{
		Use:   "sessions [room name]",
		Short: "Show sessions",
		Long:  `show sessions lists the session history of the room with the given name.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sessions, err := persister.GetSessions(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not get sessions", "error", err)
				return
			}
			printJSON(sessions)
		},
	}
	var cmdShowParticipants = &cobra.Command{
		Use:   "participants [session id]",
		Short: "Show participants",
		Long:  `show participants lists the presence spans recorded for the session with the given id.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			participants, err := persister.GetParticipants(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not get participants", "error", err)
				return
			}
			printJSON(participants)
		},
	}

	var cmdLive = &cobra.Command{
		Use:   "live",
		Short: "Inspect and moderate live rooms",
		Long:  `live talks to the media backend.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Live: " + strings.Join(args, " "))
		},
	}
	var cmdLiveRooms = &cobra.Command{
		Use:   "rooms",
		Short: "List live rooms",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if !requireBackend() {
				return
			}
			rooms, err := admin.New(gw, persister).ListRooms(ctx, cliCaller)
			if err != nil {
				globals.AppLogger.Error("could not list rooms", "error", err)
				return
			}
			printJSON(rooms)
		},
	}
	var cmdLiveParticipants = &cobra.Command{
		Use:   "participants [room name]",
		Short: "List live participants",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if !requireBackend() {
				return
			}
			participants, err := admin.New(gw, persister).ListParticipants(ctx, cliCaller, args[0])
			if err != nil {
				globals.AppLogger.Error("could not list participants", "error", err)
				return
			}
			printJSON(participants)
		},
	}
	var cmdKick = &cobra.Command{
		Use:   "kick [room name] [identity]",
		Short: "Remove a participant",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if !requireBackend() {
				return
			}
			if err := admin.New(gw, persister).RemoveParticipant(ctx, cliCaller, args[0], args[1]); err != nil {
				globals.AppLogger.Error("could not remove participant", "error", err)
			}
		},
	}
	var trackSid string
	var unmute bool
	var cmdMute = &cobra.Command{
		Use:   "mute [room name] [identity]",
		Short: "Mute a participant",
		Long:  `mute mutes the published track given by --track, or all published tracks of the participant.`,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if !requireBackend() {
				return
			}
			tracks, err := admin.New(gw, persister).MuteParticipant(ctx, cliCaller, args[0], args[1], trackSid, !unmute)
			if err != nil {
				globals.AppLogger.Error("could not mute participant", "error", err)
				return
			}
			printJSON(tracks)
		},
	}
	cmdMute.Flags().StringVar(&trackSid, "track", "", "track sid (default: all tracks)")
	cmdMute.Flags().BoolVar(&unmute, "unmute", false, "unmute instead")

	var cmdDelete = &cobra.Command{
		Use:   "delete",
		Short: "delete room",
		Long:  `delete closes a room in the media backend and removes its record.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Delete: " + strings.Join(args, " "))
		},
	}
	var cmdDeleteRoom = &cobra.Command{
		Use:   "room [room name]",
		Short: "Delete room",
		Long:  `delete room removes the room with the given name.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if !requireBackend() {
				return
			}
			if err := admin.New(gw, persister).DeleteRoom(ctx, cliCaller, args[0]); err != nil {
				globals.AppLogger.Error("could not delete room", "error", err)
			}
		},
	}

	var cmdReclaim = &cobra.Command{
		Use:   "reclaim",
		Short: "Run one reclamation tick",
		Long:  `reclaim compares the stored rooms with the live rooms once and deletes rooms idle past the threshold.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if !requireBackend() {
				return
			}
			scheduler := reclaim.New(persister, gw, globalConfig.ReclaimConfig.Interval, globalConfig.ReclaimConfig.IdleThreshold)
			reclaimed, err := scheduler.Tick(ctx)
			if err != nil {
				globals.AppLogger.Error("reclamation tick aborted", "error", err)
				return
			}
			printJSON(reclaimed)
		},
	}

	var cmdReplay = &cobra.Command{
		Use:   "replay [webhook url] [event]",
		Short: "Replay a webhook event",
		Long:  `replay signs the event with the API secret and posts it to the webhook url. If the event is "-", it is read from STDIN.`,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if !requireBackend() {
				return
			}
			var r io.Reader
			if args[1] == "-" {
				r = os.Stdin
			} else {
				r = bytes.NewReader([]byte(args[1]))
			}
			body, err := io.ReadAll(r)
			if err != nil {
				globals.AppLogger.Error("could not read event", "error", err)
				return
			}
			ev := types.WebhookEvent{}
			if err := json.Unmarshal(body, &ev); err != nil {
				globals.AppLogger.Error("could not decode event", "error", err)
				return
			}
			signature, err := auth.NewWebhookVerifier(issuer).SignWebhook(body)
			if err != nil {
				globals.AppLogger.Error("could not sign event", "error", err)
				return
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, args[0], bytes.NewReader(body))
			if err != nil {
				globals.AppLogger.Error("could not create request", "error", err)
				return
			}
			req.Header.Set("Content-Type", "application/webhook+json")
			req.Header.Set("Authorization", signature)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				globals.AppLogger.Error("could not post event", "error", err)
				return
			}
			defer resp.Body.Close()
			respBody, _ := io.ReadAll(resp.Body)
			globals.AppLogger.Info("event replayed", "event", ev.Event, "status", resp.StatusCode)
			fmt.Println(strings.TrimSpace(string(respBody)))
		},
	}

	var rootCmd = &cobra.Command{Use: "lightspeed-rooms-admin"}
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)
	rootCmd.AddCommand(cmdShow, cmdLive, cmdKick, cmdMute, cmdDelete, cmdReclaim, cmdReplay)
	cmdShow.AddCommand(cmdShowRooms, cmdShowRoom, cmdShowSessions, cmdShowParticipants)
	cmdLive.AddCommand(cmdLiveRooms, cmdLiveParticipants)
	cmdDelete.AddCommand(cmdDeleteRoom)
	rootCmd.Execute()
}
