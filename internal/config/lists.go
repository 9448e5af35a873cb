package config

// DefaultVolatilities is the accepted volatility enum.
var DefaultVolatilities = []string{"low", "medium", "high", "very_high", "unknown"}

// DefaultBlockedTerms are matched against name and provider after
// lower-casing and stripping non-alphanumerics.
var DefaultBlockedTerms = []string{
	"xxx",
	"porn",
	"hentai",
	"nsfw",
	"nude",
	"naked",
	"erotic",
	"sexcam",
	"onlyfans",
}

// DefaultBlockedImageKeywords drop image candidates whose URL contains them.
var DefaultBlockedImageKeywords = []string{
	"porn",
	"xxx",
	"nude",
	"nsfw",
	"hentai",
	"adult",
	"sexy",
	"erotic",
}

// DefaultAllowedDomains are the citation sources accepted without review.
var DefaultAllowedDomains = []string{
	"slotcatalog.com",
	"bigwinboard.com",
	"slotslaunch.com",
	"casino.guru",
	"askgamblers.com",
	"gamblingnews.com",
	"vegasslotsonline.com",
	"slot.report",
	"pragmaticplay.com",
	"playngo.com",
	"netent.com",
	"hacksawgaming.com",
	"nolimitcity.com",
	"relax-gaming.com",
	"pushgaming.com",
	"redtiger.com",
	"bgaming.com",
	"evolution.com",
	"yggdrasilgaming.com",
	"thunderkick.com",
	"elk-studios.com",
	"quickspin.com",
	"wikipedia.org",
}

// DefaultBlockedDomains are rejected even when they would otherwise pass.
var DefaultBlockedDomains = []string{
	"reddit.com",
	"pinterest.com",
	"facebook.com",
	"tiktok.com",
	"youtube.com",
	"twitter.com",
	"x.com",
	"bit.ly",
}

// DefaultProviderAliases maps lower-cased provider spellings to their
// canonical display name. Keys must not contain dots.
var DefaultProviderAliases = map[string]string{
	"pragmatic":           "Pragmatic Play",
	"pragmatic play":      "Pragmatic Play",
	"pragmaticplay":       "Pragmatic Play",
	"pp":                  "Pragmatic Play",
	"hacksaw":             "Hacksaw Gaming",
	"hacksaw gaming":      "Hacksaw Gaming",
	"nolimit":             "Nolimit City",
	"nolimit city":        "Nolimit City",
	"nlc":                 "Nolimit City",
	"play n go":           "Play'n GO",
	"play'n go":           "Play'n GO",
	"playngo":             "Play'n GO",
	"png":                 "Play'n GO",
	"netent":              "NetEnt",
	"net entertainment":   "NetEnt",
	"relax":               "Relax Gaming",
	"relax gaming":        "Relax Gaming",
	"push gaming":         "Push Gaming",
	"red tiger":           "Red Tiger",
	"red tiger gaming":    "Red Tiger",
	"big time gaming":     "Big Time Gaming",
	"btg":                 "Big Time Gaming",
	"evolution":           "Evolution",
	"yggdrasil":           "Yggdrasil",
	"yggdrasil gaming":    "Yggdrasil",
	"elk":                 "ELK Studios",
	"elk studios":         "ELK Studios",
	"thunderkick":         "Thunderkick",
	"quickspin":           "Quickspin",
	"bgaming":             "BGaming",
	"microgaming":         "Microgaming",
	"games global":        "Games Global",
	"blueprint":           "Blueprint Gaming",
	"blueprint gaming":    "Blueprint Gaming",
	"avatarux":            "AvatarUX",
	"avatar ux":           "AvatarUX",
	"backseat gaming":     "Backseat Gaming",
	"print studios":       "Print Studios",
	"thunderkick studios": "Thunderkick",
}
