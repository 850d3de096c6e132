// Package config loads the pipeline tuning file. The schema uses
// pointer-optional fields so a partial file overrides only what it names;
// everything else keeps its default.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailor-robotics/tailor/internal/lio"
)

// KeyframeTuning holds the per-axis keyframe promotion thresholds.
type KeyframeTuning struct {
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	Z     *float64 `json:"z,omitempty"`
	Roll  *float64 `json:"roll,omitempty"`
	Pitch *float64 `json:"pitch,omitempty"`
	Yaw   *float64 `json:"yaw,omitempty"`
}

// LoopTuning holds the loop-closure knobs forwarded to the loop module.
type LoopTuning struct {
	Enable      *bool    `json:"enable,omitempty"`
	MaxLoss     *float64 `json:"max_loss,omitempty"`
	Reset       *int     `json:"reset,omitempty"`
	InitialLoad *int     `json:"initial_load,omitempty"`
}

// TuningConfig is the root of the tuning file. All fields are optional.
type TuningConfig struct {
	UseSpin  *bool `json:"use_spin,omitempty"`
	UseSolid *bool `json:"use_solid,omitempty"`

	// Extrinsic is the solid→spin rigid transform as (x, y, z, roll,
	// pitch, yaw). When present it must have exactly 6 elements.
	Extrinsic []float64 `json:"extrinsic,omitempty"`

	DegeneracyThreshold *float64 `json:"degeneracy_threshold,omitempty"`

	Keyframe *KeyframeTuning `json:"keyframe,omitempty"`
	Loop     *LoopTuning     `json:"loop,omitempty"`

	MappingSavePath *string `json:"mapping_save_path,omitempty"`
}

// PipelineConfig is the resolved runtime configuration.
type PipelineConfig struct {
	UseSpin   bool
	UseSolid  bool
	Extrinsic lio.Transform
	Odometry  lio.Config
	SavePath  string
}

// DefaultPipelineConfig returns the stock configuration: both sensors on,
// identity extrinsic, default odometry tuning, no trajectory dump.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		UseSpin:  true,
		UseSolid: true,
		Odometry: lio.DefaultConfig(),
	}
}

// LoadTuningConfig reads and parses a tuning file.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tuning file: %w", err)
	}
	var tc TuningConfig
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	return &tc, nil
}

// Apply overlays the tuning file onto a resolved configuration and
// validates the result. Configuration errors here are fatal at startup:
// a malformed extrinsic or both sensors disabled cannot be recovered
// per-frame.
func (tc *TuningConfig) Apply(pc *PipelineConfig) error {
	if tc.UseSpin != nil {
		pc.UseSpin = *tc.UseSpin
	}
	if tc.UseSolid != nil {
		pc.UseSolid = *tc.UseSolid
	}
	if !pc.UseSpin && !pc.UseSolid {
		return fmt.Errorf("use_spin and use_solid cannot both be false")
	}

	if tc.Extrinsic != nil {
		if len(tc.Extrinsic) != 6 {
			return fmt.Errorf("extrinsic must have 6 elements, got %d", len(tc.Extrinsic))
		}
		pc.Extrinsic = lio.Transform{
			X: tc.Extrinsic[0], Y: tc.Extrinsic[1], Z: tc.Extrinsic[2],
			Roll: tc.Extrinsic[3], Pitch: tc.Extrinsic[4], Yaw: tc.Extrinsic[5],
		}
	}

	if tc.DegeneracyThreshold != nil {
		pc.Odometry.DegeneracyThreshold = *tc.DegeneracyThreshold
	}

	if kf := tc.Keyframe; kf != nil {
		apply := func(dst, src *float64) {
			if src != nil {
				*dst = *src
			}
		}
		apply(&pc.Odometry.Keyframe.X, kf.X)
		apply(&pc.Odometry.Keyframe.Y, kf.Y)
		apply(&pc.Odometry.Keyframe.Z, kf.Z)
		apply(&pc.Odometry.Keyframe.Roll, kf.Roll)
		apply(&pc.Odometry.Keyframe.Pitch, kf.Pitch)
		apply(&pc.Odometry.Keyframe.Yaw, kf.Yaw)
	}

	if lp := tc.Loop; lp != nil {
		if lp.Enable != nil {
			pc.Odometry.LoopEnable = *lp.Enable
		}
		if lp.MaxLoss != nil {
			pc.Odometry.LoopMaxLoss = *lp.MaxLoss
		}
		if lp.Reset != nil {
			pc.Odometry.LoopReset = *lp.Reset
		}
		if lp.InitialLoad != nil {
			pc.Odometry.LoopInitialLoad = *lp.InitialLoad
		}
	}

	if tc.MappingSavePath != nil {
		pc.SavePath = *tc.MappingSavePath
	}
	return nil
}
