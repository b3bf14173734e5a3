package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// choiceTag prefixes a progress message that carries a school-selection
// request. The payload after the separator is a JSON array of option labels.
const choiceTag = "schools_selection_needed|"

// choiceFileName is the one-shot answer file the supervisor drops next to the
// progress file. The child consumes (reads and deletes) it exactly once.
const choiceFileName = "school_choice.txt"

// ChoicePhase tracks where a job is in the school-selection exchange.
type ChoicePhase int

const (
	// ChoiceNotNeeded means the account maps to a single school.
	ChoiceNotNeeded ChoicePhase = iota
	// ChoiceAwaiting means the child has published options and is paused.
	ChoiceAwaiting
	// ChoiceResolved means an index was delivered (or defaulted).
	ChoiceResolved
)

// ChoiceState is the explicit state of the selection sub-machine, decoded
// from the progress message stream.
type ChoiceState struct {
	Phase   ChoicePhase
	Options []string
	Index   int
}

// ChoiceMessage encodes a selection request for the progress channel.
func ChoiceMessage(options []string) (string, error) {
	payload, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("encode school options: %w", err)
	}
	return choiceTag + string(payload), nil
}

// ParseChoiceMessage decodes a selection request from a progress message.
// ok is false when the message is not a selection request.
func ParseChoiceMessage(message string) (options []string, ok bool) {
	rest, found := strings.CutPrefix(message, choiceTag)
	if !found {
		return nil, false
	}
	if err := json.Unmarshal([]byte(rest), &options); err != nil {
		return nil, false
	}
	return options, true
}

// ChoiceFromSnapshot derives the selection state visible in a snapshot.
// A snapshot only ever shows the awaiting phase; resolution is observed by
// the message moving past the tagged form.
func ChoiceFromSnapshot(s Snapshot) ChoiceState {
	if opts, ok := ParseChoiceMessage(s.Message); ok {
		return ChoiceState{Phase: ChoiceAwaiting, Options: opts}
	}
	return ChoiceState{Phase: ChoiceNotNeeded}
}

// ResolveChoice writes the chosen option index into the answer file inside
// dir, unblocking a child paused on AwaitChoice.
func ResolveChoice(dir string, index int) error {
	path := filepath.Join(dir, choiceFileName)
	if err := os.WriteFile(path, []byte(strconv.Itoa(index)), 0o644); err != nil {
		return fmt.Errorf("write school choice: %w", err)
	}
	return nil
}

// AwaitChoice blocks until a valid answer file appears in dir, the wait
// elapses, or ctx is cancelled. The file is deleted on consumption.
// Out-of-range or unparseable answers are discarded and the wait continues;
// timeouts and cancellation fall back to index 0 so extraction can proceed
// with the first listed school.
func AwaitChoice(ctx context.Context, dir string, optionCount int, wait time.Duration) int {
	path := filepath.Join(dir, choiceFileName)
	// An answer left over from an earlier prompt must not satisfy this one.
	_ = os.Remove(path)
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		if idx, ok := consumeChoice(path, optionCount); ok {
			return idx
		}
		if time.Now().After(deadline) {
			return 0
		}
		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
		}
	}
}

func consumeChoice(path string, optionCount int) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	_ = os.Remove(path)
	idx, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || idx < 0 || idx >= optionCount {
		return 0, false
	}
	return idx, true
}
