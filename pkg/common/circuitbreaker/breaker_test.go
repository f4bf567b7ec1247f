package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

var errDown = errors.New("dependency down")

type BreakerTestSuite struct {
	suite.Suite
	breaker *CircuitBreaker
}

func TestBreakerTestSuite(t *testing.T) {
	suite.Run(t, new(BreakerTestSuite))
}

func (s *BreakerTestSuite) SetupTest() {
	s.breaker = New("test", Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      20 * time.Millisecond,
	})
}

func (s *BreakerTestSuite) fail() error {
	return s.breaker.Execute(func() error { return errDown })
}

func (s *BreakerTestSuite) succeed() error {
	return s.breaker.Execute(func() error { return nil })
}

func (s *BreakerTestSuite) TestOpensAfterThreshold() {
	s.Equal(Closed, s.breaker.State())

	for i := 0; i < 3; i++ {
		s.Equal(errDown, s.fail())
	}
	s.Equal(Open, s.breaker.State())
	s.Equal(ErrCircuitOpen, s.fail())
}

func (s *BreakerTestSuite) TestSuccessResetsFailureCount() {
	s.Equal(errDown, s.fail())
	s.Equal(errDown, s.fail())
	s.NoError(s.succeed())

	// Counter was reset, two more failures do not open the breaker.
	s.Equal(errDown, s.fail())
	s.Equal(errDown, s.fail())
	s.Equal(Closed, s.breaker.State())
}

func (s *BreakerTestSuite) TestHalfOpenRecovery() {
	for i := 0; i < 3; i++ {
		s.fail()
	}
	s.Equal(Open, s.breaker.State())

	time.Sleep(25 * time.Millisecond)
	s.Equal(HalfOpen, s.breaker.State())

	s.NoError(s.succeed())
	s.NoError(s.succeed())
	s.Equal(Closed, s.breaker.State())
}

func (s *BreakerTestSuite) TestHalfOpenFailureReopens() {
	for i := 0; i < 3; i++ {
		s.fail()
	}
	time.Sleep(25 * time.Millisecond)
	s.Equal(HalfOpen, s.breaker.State())

	s.Equal(errDown, s.fail())
	s.Equal(Open, s.breaker.State())
}
