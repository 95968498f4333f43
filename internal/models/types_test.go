package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullForm() PredictionForm {
	return PredictionForm{
		N: "90", P: "42", K: "43",
		Temperature: "20.8", Humidity: "82", PH: "6.5", Rainfall: "202.9",
		PreviousCrop: "maize",
	}
}

func TestRequestCoercesNumbers(t *testing.T) {
	req, err := fullForm().Request()
	require.NoError(t, err)

	assert.Equal(t, &PredictionRequest{
		N: 90, P: 42, K: 43,
		Temperature: 20.8, Humidity: 82, PH: 6.5, Rainfall: 202.9,
		PreviousCrop: "maize",
	}, req)
}

func TestRequestMissingField(t *testing.T) {
	form := fullForm()
	form.Humidity = "  "

	_, err := form.Request()

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "humidity", verr.Field)
	assert.Equal(t, "missing required field: humidity", err.Error())
}

func TestRequestMissingPreviousCrop(t *testing.T) {
	form := fullForm()
	form.PreviousCrop = ""

	_, err := form.Request()
	assert.EqualError(t, err, "missing required field: previous_crop")
}

func TestRequestNonNumeric(t *testing.T) {
	for _, value := range []string{"acidic", "NaN", "Infinity", "inf", "-Inf"} {
		form := fullForm()
		form.PH = value

		_, err := form.Request()
		assert.EqualError(t, err, "ph must be a number", value)
	}
}

func TestDisplayName(t *testing.T) {
	var nobody *User
	assert.Equal(t, "User", nobody.DisplayName())
	assert.Equal(t, "User", (&User{}).DisplayName())
	assert.Equal(t, "a@b.c", (&User{Email: "a@b.c"}).DisplayName())
	assert.Equal(t, "Ann", (&User{Name: "Ann", Email: "a@b.c"}).DisplayName())
}
