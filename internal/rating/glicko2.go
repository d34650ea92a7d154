// internal/rating/glicko2.go
package rating

import (
	"math"

	"github.com/stemplay/realtime/internal/models"
)

const (
	// GlickoScale is the multiplier used for converting between the display
	// rating scale and Glicko2's mu.
	GlickoScale = 173.7178
	// DefaultRating is the baseline display rating in Glicko2 terms.
	DefaultRating = 1000.0
	// DefaultDeviation is the baseline rating deviation (RD).
	DefaultDeviation = 350.0
	// DefaultVolatility is the starting volatility for new players.
	DefaultVolatility = 0.06
	// Tau is the constraint on volatility changes.
	Tau = 0.5
	// Epsilon is the tolerance used in iteration stopping conditions.
	Epsilon = 0.000001
)

// Glicko2Rating holds the transformed rating (Mu), rating deviation (Phi),
// and volatility (Sigma) for a single player in Glicko2 space.
type Glicko2Rating struct {
	Mu    float64
	Phi   float64
	Sigma float64
}

// NewGlicko2Rating converts a display-scale rating, deviation, and
// volatility into Glicko2 space.
func NewGlicko2Rating(rating, rd, sigma float64) Glicko2Rating {
	return Glicko2Rating{
		Mu:    (rating - DefaultRating) / GlickoScale,
		Phi:   rd / GlickoScale,
		Sigma: sigma,
	}
}

// ToRating converts a Glicko2Rating's Mu back to the display scale.
func (r Glicko2Rating) ToRating() float64 {
	return r.Mu*GlickoScale + DefaultRating
}

// ScoresFromPlacements maps final placements (1 = first) onto the [0..1]
// score fractions Glicko2 expects. With n players, first place scores 1,
// last scores 0, the rest spread linearly.
func ScoresFromPlacements(placements []int) []float64 {
	n := len(placements)
	scores := make([]float64, n)
	if n < 2 {
		return scores
	}
	for i, p := range placements {
		scores[i] = float64(n-p) / float64(n-1)
	}
	return scores
}

// UpdateProfiles applies a single-step Glicko2 update for a group of
// players given their final scores in [0..1]. For multi-player games the
// opponent rating is approximated as the average of all other players'
// ratings.
func UpdateProfiles(profiles []models.PlayerProfile, scores []float64) []models.PlayerProfile {
	if len(profiles) != len(scores) || len(profiles) < 2 {
		return profiles
	}

	var total float64
	for i := range profiles {
		total += profiles[i].SkillRating
	}

	updated := make([]models.PlayerProfile, len(profiles))
	for i, p := range profiles {
		r := NewGlicko2Rating(p.SkillRating, p.SkillDeviation, p.SkillVolatility)

		oppRating := (total - p.SkillRating) / float64(len(profiles)-1)
		oppR := NewGlicko2Rating(oppRating, DefaultDeviation, DefaultVolatility)

		newR := updateGlicko(r, oppR, scores[i])
		p.SkillRating = math.Round(newR.ToRating())
		p.SkillDeviation = newR.Phi * GlickoScale
		p.SkillVolatility = newR.Sigma
		updated[i] = p
	}
	return updated
}

// updateGlicko performs a single-match Glicko2 update with volatility for
// a player r against an opponent rOpp, given the final score in [0..1].
func updateGlicko(r, rOpp Glicko2Rating, score float64) Glicko2Rating {
	gVal := g(rOpp.Phi)
	EVal := E(r.Mu, rOpp.Mu, rOpp.Phi)

	v := 1.0 / (gVal * gVal * EVal * (1 - EVal))
	delta := v * gVal * (score - EVal)

	a := math.Log(r.Sigma * r.Sigma)
	A := a
	var B float64
	if delta*delta > r.Phi*r.Phi+v {
		B = math.Log(delta*delta - r.Phi*r.Phi - v)
	} else {
		k := 1.0
		for f(a-k*Tau, r.Phi, v, delta, A) < 0 {
			k++
		}
		B = a - k*Tau
	}

	fA := func(x float64) float64 {
		return f(x, r.Phi, v, delta, A)
	}

	fB := fA(B)
	for i := 0; i < 100; i++ {
		fAVal := fA(A)
		if math.Abs(fAVal) < Epsilon {
			break
		}
		A1 := A
		A = A1 - fAVal*(A1-B)/(fAVal-fB)
		fB = fA(B)
		if math.Abs(A-B) < Epsilon {
			break
		}
	}
	newSigma := math.Exp(A / 2)
	phiStar := math.Sqrt(r.Phi*r.Phi + newSigma*newSigma)
	phiPrime := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muPrime := r.Mu + phiPrime*phiPrime*gVal*(score-EVal)

	return Glicko2Rating{
		Mu:    muPrime,
		Phi:   phiPrime,
		Sigma: newSigma,
	}
}

// g is the G(phi) factor from Glicko2, 1/sqrt(1+3phi^2/pi^2).
func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/math.Pi/math.Pi)
}

// E is the expected score in Glicko2 space, 1/(1+exp[-g(phi2)*(mu-mu2)]).
func E(mu, mu2, phi2 float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phi2)*(mu-mu2)))
}

// f is the Glicko2 volatility root-finding function.
func f(x, phi, v, delta, a float64) float64 {
	ex := math.Exp(x)
	num := ex * (delta*delta - phi*phi - v - ex)
	den := 2.0 * (phi*phi + v + ex) * (phi*phi + v + ex)
	return (num / den) - ((x - a) / (Tau * Tau))
}
