package subscriber

// SampleSubscribers returns the audience shown on a fresh install
func SampleSubscribers() []Subscriber {
	return []Subscriber{
		{Email: "john@example.com", Name: "John Doe", Status: StatusSubscribed, JoinDate: "2024-05-01"},
		{Email: "sarah@example.com", Name: "Sarah Smith", Status: StatusSubscribed, JoinDate: "2024-05-05"},
		{Email: "mike@example.com", Name: "Mike Johnson", Status: StatusUnsubscribed, JoinDate: "2024-04-20"},
	}
}
