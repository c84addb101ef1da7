// Package fusion maintains the latest fused pose estimate from odometry and
// IMU samples via a complementary filter.
package fusion

import (
	"sync"

	"mechos/internal/mechtypes"
)

// OdometryData is the latest wheel-odometry sample.
type OdometryData struct {
	PositionX  float64
	PositionY  float64
	HeadingRad float64
	VelocityX  float64
	VelocityY  float64
}

// ImuData is the latest inertial sample; AngularVelocityZ is yaw rate.
type ImuData struct {
	AngularVelocityZ float64
}

// SensorFusion blends the most recent odometry and IMU samples into a single
// FusedState on demand. It stores latest-sample-only state, not a history.
type SensorFusion struct {
	mu    sync.Mutex
	alpha float64
	odom  *OdometryData
	imu   *ImuData
}

// New constructs a SensorFusion with the given complementary-filter weight,
// clamped to [0, 1]. A typical value is 0.98.
func New(alpha float64) *SensorFusion {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return &SensorFusion{alpha: alpha}
}

func (f *SensorFusion) UpdateOdometry(o OdometryData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.odom = &o
}

func (f *SensorFusion) UpdateIMU(i ImuData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imu = &i
}

// FusedState computes the current blended pose. dt < 0 is clamped to 0.
func (f *SensorFusion) FusedState(dt float64) mechtypes.FusedState {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dt < 0 {
		dt = 0
	}

	if f.odom == nil {
		return mechtypes.FusedState{}
	}

	heading := f.odom.HeadingRad
	if f.imu != nil {
		heading = f.alpha*(f.odom.HeadingRad+f.imu.AngularVelocityZ*dt) + (1-f.alpha)*f.odom.HeadingRad
	}

	return mechtypes.FusedState{
		PositionX:  f.odom.PositionX,
		PositionY:  f.odom.PositionY,
		HeadingRad: heading,
		VelocityX:  f.odom.VelocityX,
		VelocityY:  f.odom.VelocityY,
	}
}
