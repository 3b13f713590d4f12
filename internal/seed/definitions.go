// Package seed provides a catalog of sample campus events for bootstrapping
// an empty index and trying recommendations end to end.
package seed

import "github.com/nvandessel/eventradar/internal/ranking"

// IDPrefix marks every sample event id.
const IDPrefix = "sample-"

// sampleEvents returns the sample catalog. Definitions are already clean, so
// they are stored unchanged by the engine's sanitizer.
func sampleEvents() []ranking.EventInput {
	return []ranking.EventInput{
		{
			EventID:     "sample-ml-workshop",
			Title:       "Introduction to Machine Learning",
			Description: "Learn the fundamentals of ML in this hands-on workshop. Bring a laptop with Python installed.",
			Tags:        []string{"academic", "technology", "workshop"},
			HostingClub: "AI Club",
			Category:    "workshop",
		},
		{
			EventID:     "sample-photo-walk",
			Title:       "Golden Hour Photo Walk",
			Description: "A relaxed walk around campus to practice composition and natural light photography.",
			Tags:        []string{"photography", "outdoors", "arts"},
			HostingClub: "Photography Society",
			Category:    "social",
		},
		{
			EventID:     "sample-pitch-night",
			Title:       "Startup Pitch Night",
			Description: "Student founders pitch their ideas to a panel of alumni investors. Networking afterwards.",
			Tags:        []string{"entrepreneurship", "business", "networking"},
			HostingClub: "Entrepreneurship Club",
			Category:    "competition",
		},
		{
			EventID:     "sample-finance-panel",
			Title:       "Careers in Finance Panel",
			Description: "Analysts and traders talk about internships, recruiting timelines and day-to-day work.",
			Tags:        []string{"finance", "careers", "business"},
			HostingClub: "Finance Club",
			Category:    "talk",
		},
		{
			EventID:     "sample-hackathon",
			Title:       "24-Hour Campus Hackathon",
			Description: "Form a team and build something in a day. Mentors, food and prizes provided.",
			Tags:        []string{"technology", "programming", "competition"},
			HostingClub: "Computer Science Society",
			Category:    "competition",
		},
		{
			EventID:     "sample-hiking-trip",
			Title:       "Weekend Hiking Trip",
			Description: "Day hike on the ridge trail. Transport from campus included; moderate fitness required.",
			Tags:        []string{"outdoors", "hiking", "fitness"},
			HostingClub: "Outdoors Club",
			Category:    "trip",
		},
		{
			EventID:     "sample-jazz-night",
			Title:       "Jazz Ensemble Night",
			Description: "The student jazz ensemble performs standards and original arrangements.",
			Tags:        []string{"music", "performance"},
			Category:    "performance",
		},
		{
			EventID:     "sample-study-jam",
			Title:       "Finals Study Jam",
			Description: "Quiet study space with tutors for calculus, physics and chemistry.",
			Tags:        []string{"academic", "tutoring"},
			Category:    "academic",
		},
	}
}

// Events returns a copy of the sample catalog.
func Events() []ranking.EventInput {
	return sampleEvents()
}
