package domain

import "fmt"

// Content is the type, title and body of a push message before it is bound
// to a recipient.
type Content struct {
	Type  NotificationType
	Title string
	Body  string
}

func CongestionAlert(beachName string, congestion int) Content {
	return Content{
		Type:  TypePeakAvoid,
		Title: "Beach congestion alert",
		Body:  fmt.Sprintf("%s is crowded right now (congestion: %d%%). Consider another time slot.", beachName, congestion),
	}
}

// DateReminder is sent the day before a planned visit.
func DateReminder(beachName string) Content {
	return Content{
		Type:  TypeDateReminder,
		Title: "Visit reminder",
		Body:  fmt.Sprintf("Your visit to %s is tomorrow. Check the weather before you go!", beachName),
	}
}

func FavoriteUpdateAlert(beachName, changeInfo string) Content {
	return Content{
		Type:  TypeFavoriteUpdate,
		Title: "Favorite beach updated",
		Body:  fmt.Sprintf("%s has new %s information. Take a look!", beachName, changeInfo),
	}
}

func WeatherAlert(beachName, warning string) Content {
	return Content{
		Type:  TypeWeatherAlert,
		Title: "Weather warning",
		Body:  fmt.Sprintf("%s is in effect for the %s area. Take care if you visit.", warning, beachName),
	}
}

// ProbeContent builds a TEST notification used to check a device token end to end.
func ProbeContent(title, body string) Content {
	return Content{Type: TypeTest, Title: title, Body: body}
}
