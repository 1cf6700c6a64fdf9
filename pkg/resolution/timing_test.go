package resolution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTiming(t *testing.T) {
	tests := []struct {
		name string
		res  CustomResolution
		want Timing
	}{
		{
			name: "CVT 1920x1080@60",
			res:  CustomResolution{Width: 1920, Height: 1080, RefreshRate: 60, TimingStandard: TimingCVT},
			want: Timing{TimingCVT, 173000, 1920, 2048, 2248, 2576, 1080, 1083, 1088, 1120, false, true},
		},
		{
			name: "CVT 1280x720@60",
			res:  CustomResolution{Width: 1280, Height: 720, RefreshRate: 60, TimingStandard: TimingCVT},
			want: Timing{TimingCVT, 74500, 1280, 1344, 1472, 1664, 720, 723, 728, 748, false, true},
		},
		{
			name: "CVT 1920x1200@60 uses 16:10 vsync",
			res:  CustomResolution{Width: 1920, Height: 1200, RefreshRate: 60, TimingStandard: TimingCVT},
			want: Timing{TimingCVT, 193250, 1920, 2056, 2256, 2592, 1200, 1203, 1209, 1245, false, true},
		},
		{
			name: "CVT-RB 1920x1080@60",
			res:  CustomResolution{Width: 1920, Height: 1080, RefreshRate: 60, TimingStandard: TimingCVTRB},
			want: Timing{TimingCVTRB, 138500, 1920, 1968, 2000, 2080, 1080, 1083, 1088, 1111, true, false},
		},
		{
			name: "GTF 1920x1080@60",
			res:  CustomResolution{Width: 1920, Height: 1080, RefreshRate: 60, TimingStandard: TimingGTF},
			want: Timing{TimingGTF, 172798, 1920, 2040, 2248, 2576, 1080, 1081, 1084, 1118, false, true},
		},
		{
			name: "GTF 640x480@60",
			res:  CustomResolution{Width: 640, Height: 480, RefreshRate: 60, TimingStandard: TimingGTF},
			want: Timing{TimingGTF, 23856, 640, 656, 720, 800, 480, 481, 484, 497, false, true},
		},
		{
			name: "Automatic stays CVT below 165 MHz",
			res:  CustomResolution{Width: 1280, Height: 720, RefreshRate: 60},
			want: Timing{TimingAutomatic, 74500, 1280, 1344, 1472, 1664, 720, 723, 728, 748, false, true},
		},
		{
			name: "Automatic switches to reduced blanking",
			res:  CustomResolution{Width: 3840, Height: 2160, RefreshRate: 60},
			want: Timing{TimingAutomatic, 533000, 3840, 3888, 3920, 4000, 2160, 2163, 2168, 2222, true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateTiming(tt.res)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateTimingRejectsInvalid(t *testing.T) {
	_, err := GenerateTiming(CustomResolution{Width: 100, Height: 100, RefreshRate: 10})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTimingDerivedValues(t *testing.T) {
	tm, err := GenerateTiming(CustomResolution{Width: 1920, Height: 1080, RefreshRate: 60, TimingStandard: TimingCVT})
	require.NoError(t, err)

	assert.Equal(t, 656, tm.HBlank())
	assert.Equal(t, 40, tm.VBlank())
	assert.InDelta(t, 59.96, tm.RefreshHz(), 0.01)
	assert.InDelta(t, 67.16, tm.HorizontalKHz(), 0.01)
	assert.True(t, tm.FitsDetailedTiming())
}

func TestModeline(t *testing.T) {
	line, err := Modeline(CustomResolution{Width: 1920, Height: 1080, RefreshRate: 60, TimingStandard: TimingCVT})
	require.NoError(t, err)
	assert.Equal(t, `Modeline "1920x1080@60Hz" 173.00 1920 2048 2248 2576 1080 1083 1088 1120 -hsync +vsync`, line)

	line, err = Modeline(CustomResolution{Width: 1920, Height: 1080, RefreshRate: 60, TimingStandard: TimingCVTRB, Name: "rb"})
	require.NoError(t, err)
	assert.Equal(t, `Modeline "rb" 138.50 1920 1968 2000 2080 1080 1083 1088 1111 +hsync -vsync`, line)
}

func BenchmarkGenerateTiming(b *testing.B) {
	r := CustomResolution{Width: 2560, Height: 1440, RefreshRate: 144}
	for i := 0; i < b.N; i++ {
		_, _ = GenerateTiming(r)
	}
}
