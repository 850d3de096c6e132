package lio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// WriteTUM writes the trajectory in TUM format, one keyframe per line:
// time tx ty tz qx qy qz qw.
func WriteTUM(w io.Writer, traj []TrajectoryPose) error {
	bw := bufio.NewWriter(w)
	for _, kf := range traj {
		tx, ty, tz := kf.Pose.Translation()
		qx, qy, qz, qw := kf.Pose.Quaternion()
		if _, err := fmt.Fprintf(bw, "%f %f %f %f %f %f %f %f\n",
			kf.Time, tx, ty, tz, qx, qy, qz, qw); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveTrajectory dumps the trajectory as <unix_epoch_s>.txt inside dir and
// returns the written path.
func SaveTrajectory(dir string, traj []TrajectoryPose) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("%d.txt", time.Now().Unix()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create trajectory file: %w", err)
	}
	if err := WriteTUM(f, traj); err != nil {
		f.Close()
		return "", fmt.Errorf("write trajectory: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close trajectory file: %w", err)
	}
	return path, nil
}

// ReadTUM parses a TUM trajectory file back into poses (translation and
// quaternion only; the rotation block is reconstructed from the
// quaternion).
func ReadTUM(r io.Reader) ([]TrajectoryPose, error) {
	var out []TrajectoryPose
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		var t, tx, ty, tz, qx, qy, qz, qw float64
		if _, err := fmt.Sscanf(line, "%f %f %f %f %f %f %f %f",
			&t, &tx, &ty, &tz, &qx, &qy, &qz, &qw); err != nil {
			return nil, fmt.Errorf("parse TUM line %q: %w", line, err)
		}
		out = append(out, TrajectoryPose{Time: t, Pose: poseFromQuaternion(tx, ty, tz, qx, qy, qz, qw)})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func poseFromQuaternion(tx, ty, tz, qx, qy, qz, qw float64) Matrix4 {
	xx, yy, zz := qx*qx, qy*qy, qz*qz
	xy, xz, yz := qx*qy, qx*qz, qy*qz
	wx, wy, wz := qw*qx, qw*qy, qw*qz

	return Matrix4{
		1 - 2*(yy+zz), 2 * (xy - wz), 2 * (xz + wy), tx,
		2 * (xy + wz), 1 - 2*(xx+zz), 2 * (yz - wx), ty,
		2 * (xz - wy), 2 * (yz + wx), 1 - 2*(xx+yy), tz,
		0, 0, 0, 1,
	}
}
