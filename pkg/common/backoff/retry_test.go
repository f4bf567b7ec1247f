package backoff

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

var errTest = errors.New("test error")

type RetryTestSuite struct {
	suite.Suite
}

func TestRetryTestSuite(t *testing.T) {
	suite.Run(t, new(RetryTestSuite))
}

func (s *RetryTestSuite) policy(maxRetries int) RetryPolicy {
	return NewExponentialPolicy(ExponentialConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxRetries:   maxRetries,
	})
}

func (s *RetryTestSuite) TestRetrySuccess() {
	i := 0
	op := func() error {
		i++
		if i == 3 {
			return nil
		}
		return errTest
	}
	err := Retry(op, s.policy(5))
	s.NoError(err)
	s.Equal(3, i)
}

func (s *RetryTestSuite) TestRetryExhausted() {
	i := 0
	op := func() error {
		i++
		return errTest
	}
	err := Retry(op, s.policy(3))
	s.Equal(errTest, err)
	// Initial attempt plus three retries.
	s.Equal(4, i)
}
