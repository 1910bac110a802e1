// Replay analyzer: inspects a recorded session and optionally re-runs
// it through the deterministic kernel to print the final state hash.
// Two peers arguing about divergence can both run this on the same
// file and compare output.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"framesync/internal/config"
	"framesync/internal/protocol"
	"framesync/internal/replay"
	"framesync/internal/sim"
)

func main() {
	var (
		simulate = flag.Bool("simulate", false, "re-run the replay and print the final state hash")
		verbose  = flag.Bool("v", false, "print per-player input counts")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <replay-file>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	rp, err := replay.ReadFile(path)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	st := rp.Analyze()
	fmt.Printf("📼 %s\n", path)
	fmt.Printf("   players: %d %v\n", rp.Header.PlayerCount, rp.Header.PlayerIDs)
	fmt.Printf("   frames:  %d over %.1fs\n", st.FrameCount, st.Duration)
	fmt.Printf("   seed:    %d\n", rp.Header.Seed)
	fmt.Printf("   empty:   %d frames\n", st.EmptyFrames)

	if *verbose {
		keys := make([]string, 0, len(st.InputsPerPlay))
		for k := range st.InputsPerPlay {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("   player %s: %d inputs\n", k, st.InputsPerPlay[k])
		}
	}

	if *simulate {
		hash, err := rerun(rp)
		if err != nil {
			log.Fatalf("❌ Simulation failed: %v", err)
		}
		fmt.Printf("   hash:    %s\n", hash)
	}
}

// rerun replays the input history through a fresh game state and
// returns the final hash.
func rerun(rp *replay.Replay) (string, error) {
	cfg, err := config.Load("")
	if err != nil {
		return "", err
	}

	state := sim.NewGameState(cfg.ToSim(), cfg.Network.TickIntervalMs(), rp.Header.Seed)
	for _, pid := range rp.Header.PlayerIDs {
		state.SpawnPlayer(protocol.PlayerIndex(pid))
	}

	frames, err := rp.Frames()
	if err != nil {
		return "", err
	}
	for _, f := range frames {
		if err := state.ApplyFrame(f); err != nil {
			return "", fmt.Errorf("frame %d: %w", f.ID, err)
		}
	}
	return state.ComputeStateHash(), nil
}
