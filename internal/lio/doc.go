// Package lio implements the core of a dual-LiDAR odometry and mapping
// pipeline. Time-synchronized point clouds from a spinning multi-line
// scanner and a solid-state scanner pass through two worker stages:
//
//	sync source ──► FeatureStage ──► MappingStage ──► sinks
//
// FeatureStage turns raw clouds into compact line/plane/non-feature
// sub-clouds per sensor. MappingStage registers each feature frame
// against a sliding window of recent keyframes, promotes keyframes by a
// motion threshold, and lets an attached loop-closure module rewrite the
// past trajectory when the sensor revisits a place.
//
// Each stage owns one inbound SyncedQueue and one worker goroutine;
// everything downstream of the queues is single-threaded and owned by
// the consuming worker.
package lio
