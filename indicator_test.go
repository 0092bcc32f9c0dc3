//----------------------------------------------------------------------
// This file is part of wifista.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// wifista is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// wifista is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package wifista

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockIndicator records indicator calls.
type mockIndicator struct{ mock.Mock }

func (m *mockIndicator) Configure() error {
	return m.Called().Error(0)
}

func (m *mockIndicator) SetColor(r, g, b uint8) error {
	return m.Called(r, g, b).Error(0)
}

// flakyIndicator fails every other update.
type flakyIndicator struct {
	calls atomic.Int32
}

func (f *flakyIndicator) Configure() error {
	return nil
}

func (f *flakyIndicator) SetColor(r, g, b uint8) error {
	if f.calls.Add(1)%2 == 0 {
		return errors.New("rmt busy")
	}
	return nil
}

func TestStatusLightConfigureError(t *testing.T) {
	ind := new(mockIndicator)
	ind.On("Configure").Return(errors.New("no pixel"))

	_, err := NewStatusLight(ind, time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrHardware)
	ind.AssertExpectations(t)
	ind.AssertNotCalled(t, "SetColor", mock.Anything, mock.Anything, mock.Anything)
}

func TestStatusLightColors(t *testing.T) {
	ind := new(mockIndicator)
	ind.On("Configure").Return(nil)
	ind.On("SetColor", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	sl, err := NewStatusLight(ind, time.Millisecond, nil)
	require.NoError(t, err)

	sl.Set(StateConnected)
	require.Eventually(t, func() bool { return sl.Color() == ColorGreen }, waitFor, time.Millisecond)
	sl.Set(StateStarting)
	require.Eventually(t, func() bool { return sl.Color() == ColorBlue }, waitFor, time.Millisecond)

	// connecting blinks
	sl.Set(StateConnecting)
	require.Eventually(t, func() bool { return sl.Color() == ColorAmber }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return sl.Color() == ColorOff }, waitFor, time.Millisecond)

	sl.Close()
	sl.Close()
	assert.Equal(t, ColorOff, sl.Color())
	ind.AssertCalled(t, "SetColor", ColorGreen.R, ColorGreen.G, ColorGreen.B)
	assert.Zero(t, sl.Failures())
}

func TestStatusLightFailures(t *testing.T) {
	ind := new(flakyIndicator)
	sl, err := NewStatusLight(ind, time.Millisecond, nil)
	require.NoError(t, err)
	defer sl.Close()

	sl.Set(StateFailed)
	require.Eventually(t, func() bool { return sl.Failures() >= 3 }, waitFor, time.Millisecond)
	assert.Equal(t, StateFailed, sl.Get())
}

func TestStatusLightTrap(t *testing.T) {
	ind := new(flakyIndicator)
	sl, err := NewStatusLight(ind, time.Millisecond, nil)
	require.NoError(t, err)
	defer sl.Close()

	func() {
		defer sl.Trap(0)
		panic("boom")
	}()
	assert.Equal(t, ColorExcp, sl.color(false))
	assert.Equal(t, ColorExcp, sl.color(true))
}

func TestStatusLightNil(t *testing.T) {
	var sl *StatusLight
	assert.NotPanics(t, func() { sl.Set(StateConnected) })
}
