package lms

import (
	"errors"
	"testing"

	"lmscenter/internal/external/canvas"
	"lmscenter/internal/external/lmshttp"
	"lmscenter/internal/external/moodle"
	"lmscenter/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewClient(t *testing.T) {
	httpClient := lmshttp.NewClient(lmshttp.DefaultConfig(), zap.NewNop())

	tests := []struct {
		name     string
		cfg      model.LMSConfig
		wantType any
		wantErr  error
	}{
		{
			name:     "canvas",
			cfg:      model.LMSConfig{LMSType: model.LMSCanvas, LMSURL: "https://canvas.test", APIToken: "t"},
			wantType: &canvas.Client{},
		},
		{
			name:     "moodle",
			cfg:      model.LMSConfig{LMSType: model.LMSMoodle, LMSURL: "https://moodle.test", APIToken: "t"},
			wantType: &moodle.Client{},
		},
		{
			name:    "blackboard not implemented",
			cfg:     model.LMSConfig{LMSType: model.LMSBlackboard, LMSURL: "https://bb.test", APIToken: "t"},
			wantErr: model.ErrNotImplemented,
		},
		{
			name:    "unknown type",
			cfg:     model.LMSConfig{LMSType: "sakai", LMSURL: "https://sakai.test", APIToken: "t"},
			wantErr: model.ErrUnsupportedLMS,
		},
		{
			name:    "missing token",
			cfg:     model.LMSConfig{LMSType: model.LMSCanvas, LMSURL: "https://canvas.test"},
			wantErr: ErrMissingToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg, httpClient, zap.NewNop())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, client)
		})
	}
}

func TestNewClient_UnknownTypeMessage(t *testing.T) {
	_, err := NewClient(model.LMSConfig{LMSType: "sakai", LMSURL: "https://x"}, nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported LMS type: sakai")
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(model.LMSConfig{LMSType: model.LMSCanvas, APIToken: "t"}, nil, zap.NewNop())
	assert.Error(t, err)
}
