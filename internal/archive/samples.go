package archive

// SampleRecords returns the newsletters shown on a fresh dashboard
func SampleRecords() []Record {
	return []Record{
		{
			Subject:    "🚀 AI Trends Transforming Business in 2024",
			SentDate:   "2024-05-20",
			Status:     StatusSent,
			Recipients: 1247,
			Opens:      324,
			Clicks:     89,
			OpenRate:   26.0,
			ClickRate:  7.1,
			Preview:    "Discover how artificial intelligence is reshaping industries and creating new opportunities for growth...",
		},
		{
			Subject:    "💡 Marketing Automation: Your Complete Guide",
			SentDate:   "2024-05-15",
			Status:     StatusSent,
			Recipients: 1198,
			Opens:      287,
			Clicks:     76,
			OpenRate:   24.0,
			ClickRate:  6.3,
			Preview:    "Learn how to streamline your marketing efforts with powerful automation tools and strategies...",
		},
		{
			Subject:    "🌟 Customer Success Stories That Inspire",
			SentDate:   "2024-05-10",
			Status:     StatusSent,
			Recipients: 1156,
			Opens:      298,
			Clicks:     92,
			OpenRate:   25.8,
			ClickRate:  8.0,
			Preview:    "Read amazing success stories from our community and learn what strategies worked for them...",
		},
		{
			Subject:  "📊 Q2 Industry Report Draft",
			SentDate: "2024-05-22",
			Status:   StatusDraft,
			Preview:  "Comprehensive analysis of Q2 market trends and performance metrics across key industries...",
		},
		{
			Subject:    "🎯 Productivity Hacks for Remote Teams",
			SentDate:   "2024-05-05",
			Status:     StatusSent,
			Recipients: 1089,
			Opens:      267,
			Clicks:     71,
			OpenRate:   24.5,
			ClickRate:  6.5,
			Preview:    "Boost your team's productivity with these proven strategies for remote work success...",
		},
	}
}
