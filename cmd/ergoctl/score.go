package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/ergorisk/internal/api"
	"example.com/ergorisk/internal/domain"
	"example.com/ergorisk/internal/pose"
	"example.com/ergorisk/internal/rula"
)

// captureFile is a recorded sequence in the same frame format the API accepts.
type captureFile struct {
	Frames []api.FramePayload `json:"frames"`
}

type scoreResult struct {
	File             string          `json:"file"`
	CompositeScore   int             `json:"compositeScore,omitempty"`
	ActionLevel      string          `json:"actionLevel,omitempty"`
	Breakdown        *rula.Breakdown `json:"breakdown,omitempty"`
	AggregatedAngles *api.AnglesView `json:"aggregatedAngles,omitempty"`
	FramesAnalyzed   int             `json:"framesAnalyzed"`
	FramesRejected   int             `json:"framesRejected"`
	Error            string          `json:"error,omitempty"`
}

func newScoreCmd() *cobra.Command {
	var (
		wrist       string
		concurrency int
		strict      bool
	)

	cmd := &cobra.Command{
		Use:   "score FILE...",
		Short: "Score recorded pose captures",
		Long:  "Score one or more JSON capture files of the form {\"frames\": [...]} and print one result per file.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := pose.ParseWristMode(wrist)
			if err != nil {
				return err
			}
			results, err := scoreFiles(cmd.Context(), pose.NewExtractor(pose.WithWristMode(mode)), args, concurrency)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}

			if strict {
				for _, r := range results {
					if r.Error != "" {
						return fmt.Errorf("%s: %s", r.File, r.Error)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&wrist, "wrist", "literal", "Wrist angle mode: literal or hand")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", runtime.NumCPU(), "Files scored in parallel")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any file fails to score")
	return cmd
}

// scoreFiles scores each file independently; per-file failures are reported in the result.
// Results keep the order of paths.
func scoreFiles(ctx context.Context, extractor *pose.Extractor, paths []string, concurrency int) ([]scoreResult, error) {
	results := make([]scoreResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, concurrency))
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = scoreFile(extractor, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func scoreFile(extractor *pose.Extractor, path string) scoreResult {
	result := scoreResult{File: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	var capture captureFile
	if err := json.Unmarshal(raw, &capture); err != nil {
		result.Error = fmt.Sprintf("decode: %v", err)
		return result
	}

	frames, err := api.LandmarkSets(capture.Frames)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	evaluation, err := domain.Evaluate(extractor, frames)
	if err != nil {
		result.Error = err.Error()
		result.FramesRejected = len(frames)
		return result
	}

	angles := api.AnglesView(evaluation.Angles.AngleSet)
	result.CompositeScore = evaluation.Score.Composite
	result.ActionLevel = evaluation.Score.ActionLevel().String()
	result.Breakdown = &evaluation.Score.Breakdown
	result.AggregatedAngles = &angles
	result.FramesAnalyzed = evaluation.FramesAnalyzed
	result.FramesRejected = evaluation.FramesRejected
	return result
}
