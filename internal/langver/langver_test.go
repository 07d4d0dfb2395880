package langver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "3.7", want: Version{3, 7}},
		{in: "2.7.18", want: Version{2, 7}},
		{in: " 3.10 ", want: Version{3, 10}},
		{in: "3", wantErr: true},
		{in: "x.1", wantErr: true},
		{in: "3.y", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersion_Compare(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, MustParse("3.7").Compare(MustParse("3.7")))
	assert.Equal(t, -1, MustParse("2.7").Compare(MustParse("3.0")))
	assert.Equal(t, 1, MustParse("3.10").Compare(MustParse("3.9")))
	assert.True(t, MustParse("3.1").Is3x())
	assert.False(t, MustParse("2.7").Is3x())
	assert.Equal(t, "3.10", MustParse("3.10").String())
}

func TestApplies(t *testing.T) {
	t.Parallel()

	v := MustParse("3.6")
	tests := []struct {
		expr    string
		want    bool
		wantErr bool
	}{
		{expr: "", want: true},
		{expr: ">=3.0", want: true},
		{expr: ">=3.7", want: false},
		{expr: "<=3.6", want: true},
		{expr: "<=2.7", want: false},
		{expr: "==3.6", want: true},
		{expr: "==3.5", want: false},
		{expr: ">=3.0;<=3.6", want: true},
		{expr: ">=3.0;<=3.5", want: false},
		{expr: ">=2.7; <=3.9 ;==3.6", want: true},
		{expr: "~=3.6", wantErr: true},
		{expr: ">=", wantErr: true},
		{expr: ">=3", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			got, err := Applies(tt.expr, v)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
