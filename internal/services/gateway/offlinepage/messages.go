package offlinepage

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message/catalog"
)

// Message keys.
const (
	keyTitle   = "offline.title"
	keyHeading = "offline.heading"
	keyBody    = "offline.body"
	keyPending = "offline.pending"
	keyRetry   = "offline.retry"
)

var messages = map[language.Tag]map[string]string{
	language.English: {
		keyTitle:   "Offline | Adonai Farm",
		keyHeading: "You are offline",
		keyBody:    "The farm server cannot be reached. Pages you visited before are still available, and your changes are saved on this machine.",
		keyPending: "%d change(s) waiting to sync",
		keyRetry:   "Try again",
	},
	language.Swahili: {
		keyTitle:   "Nje ya mtandao | Adonai Farm",
		keyHeading: "Uko nje ya mtandao",
		keyBody:    "Seva ya shamba haipatikani. Kurasa ulizotembelea bado zinapatikana, na mabadiliko yako yamehifadhiwa kwenye kompyuta hii.",
		keyPending: "Mabadiliko %d yanasubiri kusawazishwa",
		keyRetry:   "Jaribu tena",
	},
}

func buildCatalog() (*catalog.Builder, error) {
	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, entries := range messages {
		for key, value := range entries {
			if err := builder.SetString(tag, key, value); err != nil {
				return nil, err
			}
		}
	}
	return builder, nil
}
