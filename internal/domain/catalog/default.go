package catalog

// Default returns the built-in catalog: the five mining upgrades of the
// play-to-mine demo and the achievement ladder.
func Default() *Catalog {
	return MustNew(DefaultRevision, defaultUpgrades(), defaultAchievements())
}

func defaultUpgrades() []Upgrade {
	return []Upgrade{
		{ID: "rig1", Name: "Basic Rig", Description: "+25 H/s", Cost: 100, Boost: 25},
		{ID: "core1", Name: "Neon Core", Description: "+200 H/s", Cost: 500, Boost: 200},
		{ID: "gpu1", Name: "Quantum GPU", Description: "+1000 H/s", Cost: 2000, Boost: 1000},
		{ID: "node1", Name: "Overdrive Node", Description: "+3000 H/s", Cost: 5000, Boost: 3000},
		{ID: "rx1", Name: "Cyber Reactor", Description: "+12000 H/s", Cost: 20000, Boost: 12000},
	}
}

func defaultAchievements() []Achievement {
	return []Achievement{
		// Clicks
		{
			ID: "first_tap", Name: "First Tap",
			Description: "Mine by hand for the first time",
			Rule:        Rule{Metric: MetricClicks, AtLeast: 1},
		},
		{
			ID: "tap_100", Name: "Finger Rig",
			Description: "Mine by hand 100 times",
			Bonus:       0.02,
			Rule:        Rule{Metric: MetricClicks, AtLeast: 100},
		},
		{
			ID: "tap_1000", Name: "Human ASIC",
			Description: "Mine by hand 1,000 times",
			Bonus:       0.05,
			Rule:        Rule{Metric: MetricClicks, AtLeast: 1000},
		},

		// Purchases
		{
			ID: "first_buy", Name: "Hardware Store",
			Description: "Buy your first upgrade",
			Bonus:       0.01,
			Rule:        Rule{Metric: MetricPurchases, AtLeast: 1},
		},
		{
			ID: "fleet_10", Name: "Small Farm",
			Description: "Own 10 upgrades",
			Bonus:       0.05,
			Rule:        Rule{Metric: MetricOwned, AtLeast: 10},
		},
		{
			ID: "fleet_50", Name: "Mining Hall",
			Description: "Own 50 upgrades",
			Bonus:       0.10,
			Rule:        Rule{Metric: MetricOwned, AtLeast: 50},
		},

		// Balance
		{
			ID: "mecha_1", Name: "First MECHA",
			Description: "Hold 1 MECHA",
			Rule:        Rule{Metric: MetricCurrency, AtLeast: 1},
		},
		{
			ID: "mecha_10k", Name: "Whale Frog",
			Description: "Hold 10,000 MECHA",
			Bonus:       0.10,
			Rule:        Rule{Metric: MetricCurrency, AtLeast: 10000},
		},

		// Hashrate
		{
			ID: "hash_1k", Name: "Kilohash",
			Description: "Reach 1,000 H/s",
			Bonus:       0.03,
			Rule:        Rule{Metric: MetricHashrate, AtLeast: 1000},
		},
		{
			ID: "hash_100k", Name: "Overclocked",
			Description: "Reach 100,000 H/s",
			Bonus:       0.10,
			Rule:        Rule{Metric: MetricHashrate, AtLeast: 100000},
		},
	}
}
