package pow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Algorithm is the only hash scheme the module implements.
const Algorithm = "DeepSeekHashV1"

// DefaultDifficulty applies when the challenge omits difficulty.
const DefaultDifficulty = 144000

// Challenge as returned by create_pow_challenge.
type Challenge struct {
	Algorithm  string  `json:"algorithm"`
	Challenge  string  `json:"challenge"`
	Salt       string  `json:"salt"`
	Difficulty float64 `json:"difficulty"`
	ExpireAt   int64   `json:"expire_at"`
	Signature  string  `json:"signature"`
	TargetPath string  `json:"target_path"`
}

// Prefix is the salted prefix hashed in front of each candidate.
func (c Challenge) Prefix() string {
	return fmt.Sprintf("%s_%d_", c.Salt, c.ExpireAt)
}

// Response is the solved challenge sent back in x-ds-pow-response.
type Response struct {
	Algorithm  string `json:"algorithm"`
	Challenge  string `json:"challenge"`
	Salt       string `json:"salt"`
	Answer     int64  `json:"answer"`
	Signature  string `json:"signature"`
	TargetPath string `json:"target_path"`
}

// Encode returns base64(compact JSON).
func (r Response) Encode() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// ErrNoSolution is returned when the module finds no answer.
var ErrNoSolution = errors.New("pow: no solution")

// Answer solves c and returns the response to send.
func (s *Solver) Answer(ctx context.Context, c Challenge) (*Response, error) {
	if c.Algorithm != Algorithm {
		return nil, fmt.Errorf("pow: unsupported algorithm %q", c.Algorithm)
	}
	difficulty := c.Difficulty
	if difficulty == 0 {
		difficulty = DefaultDifficulty
	}
	answer, ok, err := s.Solve(ctx, []byte(c.Challenge), []byte(c.Prefix()), difficulty)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSolution
	}
	return &Response{
		Algorithm:  c.Algorithm,
		Challenge:  c.Challenge,
		Salt:       c.Salt,
		Answer:     answer,
		Signature:  c.Signature,
		TargetPath: c.TargetPath,
	}, nil
}
