// simworker simulates the worker side of the dispatcher contract, for
// integration testing without a training stack: it reads its device
// assignment from the environment, "trains" for a configurable number of
// rounds with an early-stop rule, and prints its record JSON as the final
// line of stdout.
//
// Recognized option keys: num_rounds, learning_rate, early_stop, round_ms,
// crash (exit nonzero without output).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	cerrors "github.com/Willam-Ni/easyFL/common/errors"
)

var (
	task      = flag.String("task", "", "task location")
	algorithm = flag.String("algorithm", "", "algorithm reference")
	option    = flag.String("option", "{}", "options mapping, JSON")
	model     = flag.String("model", "", "model reference")
	logger    = flag.String("logger", "", "logger class")
	simulator = flag.String("simulator", "", "simulator class")
	scene     = flag.String("scene", "", "scene tag")
)

func main() {
	flag.Parse()
	if *task == "" || *algorithm == "" {
		log.Error("simworker requires --task and --algorithm")
		os.Exit(int(cerrors.CouldNotExecExitCode))
	}
	_ = *model
	_ = *logger
	_ = *simulator

	opts := map[string]interface{}{}
	if err := json.Unmarshal([]byte(*option), &opts); err != nil {
		log.WithFields(log.Fields{"error": err}).Error("Bad --option JSON")
		os.Exit(int(cerrors.CouldNotExecExitCode))
	}
	device := os.Getenv("EASYFL_DEVICE")
	if device == "" {
		log.Error("No device assignment in environment (EASYFL_DEVICE)")
		os.Exit(int(cerrors.CouldNotExecExitCode))
	}

	if truthy(opts["crash"]) {
		fmt.Fprintln(os.Stderr, "simulated crash")
		os.Exit(1)
	}

	rounds := intOpt(opts, "num_rounds", 10)
	earlyStop := intOpt(opts, "early_stop", 0)
	roundMs := intOpt(opts, "round_ms", 0)
	lr := floatOpt(opts, "learning_rate", 0.1)

	// Loss decays with the learning rate, then plateaus: higher lr converges
	// faster but to a worse floor, so grids have a real optimum.
	floor := 0.05 + math.Abs(lr-0.05)
	valLoss := []float64{}
	best := math.Inf(1)
	sinceImproved := 0
	for i := 0; i < rounds; i++ {
		if roundMs > 0 {
			time.Sleep(time.Duration(roundMs) * time.Millisecond)
		}
		loss := floor + math.Exp(-lr*float64(i+1))
		valLoss = append(valLoss, loss)
		if loss < best {
			best = loss
			sinceImproved = 0
		} else {
			sinceImproved++
			if earlyStop > 0 && sinceImproved >= earlyStop {
				log.WithFields(log.Fields{"round": i}).Info("Early stop")
				break
			}
		}
	}

	record := map[string]interface{}{
		"output": map[string]interface{}{
			"val_loss": valLoss,
		},
		"option": opts,
	}
	if *scene != "" {
		record["option"].(map[string]interface{})["scene"] = *scene
	}
	out, err := json.Marshal(record)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Error("Marshaling record")
		os.Exit(int(cerrors.MalformedResultExitCode))
	}
	fmt.Println(string(out))
}

func truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

func intOpt(opts map[string]interface{}, key string, def int) int {
	if v, ok := opts[key].(float64); ok {
		return int(v)
	}
	return def
}

func floatOpt(opts map[string]interface{}, key string, def float64) float64 {
	if v, ok := opts[key].(float64); ok {
		return v
	}
	return def
}
