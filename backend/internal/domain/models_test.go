package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "bimoi/backend/pkg/errors"
)

func TestMatchCard(t *testing.T) {
	existing := Contact{ID: "c1", Name: "Ann", PhoneNumber: "+393123456789", ExternalID: "42", Channel: "telegram"}

	tests := []struct {
		name string
		card ContactCard
		want string
	}{
		{"same phone", ContactCard{Name: "Other", PhoneNumber: "+393123456789"}, MatchPhoneNumber},
		{"same external id and channel", ContactCard{Name: "Ann", ExternalID: "42", Channel: "telegram"}, MatchExternalID},
		{"external id on another channel", ContactCard{Name: "Ann", ExternalID: "42", Channel: "discord"}, ""},
		{"name only", ContactCard{Name: "Ann"}, ""},
		{"different identifiers", ContactCard{Name: "Ann", PhoneNumber: "+12025551234", ExternalID: "7", Channel: "telegram"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchCard(existing, tt.card))
		})
	}
}

func TestMatchCard_AbsentFieldsNeverMatch(t *testing.T) {
	noIDs := Contact{ID: "c1", Name: "Ann"}
	assert.Equal(t, "", MatchCard(noIDs, ContactCard{Name: "Bob"}))
	assert.Equal(t, "", MatchCard(noIDs, ContactCard{Name: "Ann", Channel: "telegram"}))
}

func TestValidateCard(t *testing.T) {
	assert.NoError(t, Validate(ContactCard{Name: "Ann"}))

	err := Validate(ContactCard{PhoneNumber: "+1"})
	require.Error(t, err)
	v, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "name", v.Field)

	err = Validate(ContactCard{Name: "Ann", ExternalID: "42"})
	v, ok = apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "channel", v.Field)

	err = Validate(ContactCard{Name: strings.Repeat("x", 501)})
	v, ok = apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "name", v.Field)
}

func TestValidateProfileUpdate(t *testing.T) {
	bio := strings.Repeat("b", 2001)
	err := Validate(ProfileUpdate{Bio: &bio})
	v, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "bio", v.Field)

	name := "Ann"
	assert.NoError(t, Validate(ProfileUpdate{Name: &name}))
	assert.True(t, ProfileUpdate{}.Empty())
}

func TestValidateContextText(t *testing.T) {
	text, err := ValidateContextText("  met at a conference  ")
	require.NoError(t, err)
	assert.Equal(t, "met at a conference", text)

	_, err = ValidateContextText(" \n\t ")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))

	_, err = ValidateContextText(strings.Repeat("é", MaxContextLength+1))
	assert.Error(t, err)
}

func TestSnake(t *testing.T) {
	assert.Equal(t, "phone_number", snake("PhoneNumber"))
	assert.Equal(t, "external_id", snake("ExternalID"))
	assert.Equal(t, "name", snake("Name"))
}
