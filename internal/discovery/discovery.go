package discovery

// Prefix is the Home Assistant discovery namespace.
const Prefix = "homeassistant"

// Message is one retained discovery document.
type Message struct {
	Topic   string
	Payload map[string]any
	Retain  bool
	QoS     byte
}

// deviceBlock groups every derived entity of a source under one
// Home Assistant device.
func deviceBlock(swVersion, sourceID string) map[string]any {
	return map[string]any{
		"identifiers":  []string{"yaic_" + sourceID},
		"name":         "YAIC " + sourceID,
		"manufacturer": "YAIC",
		"model":        "MQTT Vision Classifier",
		"sw_version":   swVersion,
	}
}

// Messages builds the full retained discovery set for one source:
// sensors for classification, confidence and the people analytics
// fields, a person-detected binary sensor, the last-image camera and
// the event stream.
func Messages(topics Topics, swVersion, sourceID string) []Message {
	device := deviceBlock(swVersion, sourceID)
	stateTopic := topics.Classification(sourceID)
	availabilityTopic := topics.StatusFor(sourceID)
	uid := "yaic_" + sourceID

	availability := func(payload map[string]any) map[string]any {
		payload["availability_topic"] = availabilityTopic
		payload["payload_available"] = "online"
		payload["payload_not_available"] = "offline"
		payload["device"] = device
		return payload
	}

	sensor := func(suffix, name, template, icon string) Message {
		return Message{
			Topic:  Prefix + "/sensor/" + uid + "_" + suffix + "/config",
			Retain: true,
			QoS:    1,
			Payload: availability(map[string]any{
				"name":           "YAIC " + sourceID + " " + name,
				"uniq_id":        uid + "_" + suffix,
				"state_topic":    stateTopic,
				"value_template": template,
				"icon":           icon,
			}),
		}
	}

	classification := sensor("classification", "Classification",
		"{{ value_json.label }}", "mdi:image-search")
	classification.Payload["uniq_id"] = uid + "_class_sensor"
	classification.Payload["json_attributes_topic"] = stateTopic

	confidence := sensor("confidence", "Confidence",
		"{{ (value_json.confidence * 100) | round(1) }}", "mdi:percent")
	confidence.Payload["unit_of_measurement"] = "%"

	return []Message{
		classification,
		confidence,
		sensor("people_count", "People Count",
			"{{ value_json.person.count | default(0) }}", "mdi:account-multiple"),
		sensor("people_description", "People Description",
			"{{ value_json.person.description | default('no data') }}", "mdi:text"),
		sensor("people_age", "People Age Groups",
			"{{ value_json.person.age_summary | default('unknown') }}", "mdi:calendar-clock"),
		sensor("people_gender", "People Gender",
			"{{ value_json.person.gender_summary | default('unknown') }}", "mdi:account-group"),
		sensor("people_roles", "People Roles",
			"{{ value_json.person.role_summary | default('unknown') }}", "mdi:briefcase-account"),
		{
			Topic:  Prefix + "/binary_sensor/" + uid + "_person_detect/config",
			Retain: true,
			QoS:    1,
			Payload: availability(map[string]any{
				"name":        "YAIC " + sourceID + " Person Detected",
				"uniq_id":     uid + "_person_detect",
				"state_topic": stateTopic,
				"value_template": "{% if value_json.person.count | default(0) | int > 0 %}\n" +
					"  on\n" +
					"{% else %}\n" +
					"  off\n" +
					"{% endif %}",
				"icon": "mdi:account",
			}),
		},
		{
			Topic:  Prefix + "/camera/" + uid + "_last/config",
			Retain: true,
			QoS:    1,
			Payload: availability(map[string]any{
				"name":    "YAIC " + sourceID + " Last Image",
				"uniq_id": uid + "_last",
				"topic":   topics.Image(sourceID),
			}),
		},
		{
			Topic:  Prefix + "/event/" + uid + "_event/config",
			Retain: true,
			QoS:    1,
			Payload: availability(map[string]any{
				"name":        "YAIC " + sourceID + " Event",
				"uniq_id":     uid + "_event",
				"state_topic": topics.Event(sourceID),
			}),
		},
	}
}
