// Package moderation screens stream thumbnails and uploaded images with
// Google Vision SafeSearch before they become publicly visible.
package moderation

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"
)

// ErrNotConfigured is returned when no Vision API key is set.
var ErrNotConfigured = errors.New("image moderation not configured")

// Verdict is the SafeSearch outcome for one image.
type Verdict struct {
	Adult    string `json:"adult"`
	Violence string `json:"violence"`
	Racy     string `json:"racy"`
	Flagged  bool   `json:"flagged"`
}

// Scanner wraps the Vision API for SafeSearch annotation.
type Scanner struct {
	svc *vision.Service
}

// NewScanner builds a Scanner from an API key. Extra options (test endpoint
// overrides) are appended after the key.
func NewScanner(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Scanner, error) {
	if apiKey == "" {
		return &Scanner{}, nil
	}
	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := vision.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("init vision service: %w", err)
	}
	return &Scanner{svc: svc}, nil
}

// Enabled reports whether a Vision service is configured.
func (s *Scanner) Enabled() bool { return s != nil && s.svc != nil }

// ScanImageURL runs SafeSearch on an image by URL.
func (s *Scanner) ScanImageURL(ctx context.Context, imageURL string) (*Verdict, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	if imageURL == "" {
		return nil, errors.New("image url empty")
	}
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:    &vision.Image{Source: &vision.ImageSource{ImageUri: imageURL}},
			Features: []*vision.Feature{{Type: "SAFE_SEARCH_DETECTION"}},
		}},
	}
	resp, err := s.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("safesearch annotate: %w", err)
	}
	if len(resp.Responses) == 0 || resp.Responses[0].SafeSearchAnnotation == nil {
		return nil, errors.New("no safesearch annotation in response")
	}
	ann := resp.Responses[0].SafeSearchAnnotation
	v := &Verdict{Adult: ann.Adult, Violence: ann.Violence, Racy: ann.Racy}
	v.Flagged = flagged(ann.Adult, ann.Violence, ann.Racy)
	return v, nil
}

// likelihoodRank orders Vision likelihood strings; unknown values rank lowest.
func likelihoodRank(l string) int {
	switch l {
	case "VERY_UNLIKELY":
		return 1
	case "UNLIKELY":
		return 2
	case "POSSIBLE":
		return 3
	case "LIKELY":
		return 4
	case "VERY_LIKELY":
		return 5
	}
	return 0
}

// flagged applies the screening policy: adult or violent content at LIKELY or
// above is blocked, racy content only at VERY_LIKELY.
func flagged(adult, violence, racy string) bool {
	if likelihoodRank(adult) >= likelihoodRank("LIKELY") {
		return true
	}
	if likelihoodRank(violence) >= likelihoodRank("LIKELY") {
		return true
	}
	return likelihoodRank(racy) >= likelihoodRank("VERY_LIKELY")
}
