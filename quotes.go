package main

// The quote set is a fixed, read-only oracle: grading only ever consults the
// mapping from quote ID to its correct phase. Text and author ride along so
// clients rendering from older bundles can fall back to server data.

const (
	phasePreparation  = "preparation"
	phaseIncubation   = "incubation"
	phaseIllumination = "illumination"
	phaseVerification = "verification"
)

type Quote struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Author string `json:"author"`
	Phase  string `json:"phase"`
}

func validPhase(phase string) bool {
	switch phase {
	case phasePreparation, phaseIncubation, phaseIllumination, phaseVerification:
		return true
	}
	return false
}

var quoteSet = []Quote{
	{ID: "q1", Text: "Creativity is intelligence having fun.", Author: "Albert Einstein", Phase: phaseIllumination},
	{ID: "q2", Text: "You can't use up creativity. The more you use, the more you have.", Author: "Maya Angelou", Phase: phasePreparation},
	{ID: "q3", Text: "The best way to have a good idea is to have a lot of ideas.", Author: "Linus Pauling", Phase: phasePreparation},
	{ID: "q4", Text: "Sleep on a problem; the subconscious mind will work on it.", Author: "Unknown", Phase: phaseIncubation},
	{ID: "q5", Text: "That flash of insight is the reward of patient exploration.", Author: "Jonas Salk", Phase: phaseIllumination},
	{ID: "q6", Text: "Verification is the courage to test what you imagine.", Author: "Grace Hopper", Phase: phaseVerification},
	{ID: "q7", Text: "Great ideas often need a quiet place to grow.", Author: "Unknown", Phase: phaseIncubation},
	{ID: "q8", Text: "Draft, test, iterate: the loop that sharpens creativity.", Author: "IDEO Principle", Phase: phaseVerification},
	{ID: "q9", Text: "Collect widely; curiosity is a muscle.", Author: "Austin Kleon", Phase: phasePreparation},
	{ID: "q10", Text: "Illumination favors the prepared mind.", Author: "Louis Pasteur", Phase: phaseIllumination},
	{ID: "q11", Text: "Let time be your collaborator.", Author: "Paul Arden", Phase: phaseIncubation},
	{ID: "q12", Text: "Measure twice, cut once.", Author: "Craft Proverb", Phase: phaseVerification},
}
