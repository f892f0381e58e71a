package steam

import "strconv"

// Source is the ID prefix for games imported from Steam.
const Source = "steam"

// OwnedGame is one entry of a user's Steam library.
type OwnedGame struct {
	AppID           int64  `json:"appid"`
	Name            string `json:"name"`
	PlaytimeForever int    `json:"playtimeForever"` // minutes
}

// GameID returns the catalog ID for the game, e.g. "steam:440".
func (g OwnedGame) GameID() string {
	return Source + ":" + strconv.FormatInt(g.AppID, 10)
}

// CoverURL returns the portrait library artwork for the game. Some older
// titles have none and the URL answers 404.
func (g OwnedGame) CoverURL() string {
	return CoverURL(g.AppID)
}

// ownedGamesResponse is the raw response from GetOwnedGames.
type ownedGamesResponse struct {
	Response struct {
		GameCount int       `json:"game_count"`
		Games     []apiGame `json:"games"`
	} `json:"response"`
}

type apiGame struct {
	AppID           int64  `json:"appid"`
	Name            string `json:"name"`
	PlaytimeForever int    `json:"playtime_forever"`
}
