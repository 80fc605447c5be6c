package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModerator_CensorsListedWords(t *testing.T) {
	req := require.New(t)
	m, err := NewModerator([]string{"secret", "forbidden"}, '*')
	req.NoError(err)

	req.Equal("this is ****** stuff", m.Censor("this is secret stuff"))
	req.Equal("*********!", m.Censor("FORBIDDEN!"))
}

func TestModerator_LeavesCleanTextAlone(t *testing.T) {
	req := require.New(t)
	m, err := NewModerator([]string{"secret"}, '*')
	req.NoError(err)

	input := "nothing to see here"
	req.Equal(input, m.Censor(input))
}

func TestModerator_EmptyListPassesThrough(t *testing.T) {
	req := require.New(t)
	m, err := NewModerator(nil, '*')
	req.NoError(err)

	req.Equal("secret", m.Censor("secret"))
}

func TestModerator_CaseInsensitive(t *testing.T) {
	req := require.New(t)
	m, err := NewModerator([]string{"secret"}, '#')
	req.NoError(err)

	req.Equal("######", m.Censor("SeCrEt"))
}
