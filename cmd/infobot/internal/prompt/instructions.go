// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package prompt

import (
	"fmt"
	"strings"
	"time"
)

// SearchInstructions returns the block appended to prompts of topics that are
// generated with web search. Machine learning news get a more detailed block
// asking for trending GitHub repositories.
func (l Lang) SearchInstructions(machineLearning bool, now time.Time) string {
	year := now.Year()
	if machineLearning {
		return fmt.Sprintf(l.Pick(
			"\n\nПредоставь последние новости и актуальную информацию по машинному обучению и нейросетям за %[1]d год. Обязательно включи информацию о новых проектах и репозиториях на GitHub, которые стали популярными в %[1]d году. Укажи названия репозиториев, их авторов, количество звезд и краткое описание технологии. Не упоминай %[2]d год как текущий.",
			"\n\nProvide the latest news and current information on machine learning and neural networks for %[1]d. Be sure to include information about new projects and repositories on GitHub that have become popular in %[1]d. Include repository names, their authors, number of stars, and a brief description of the technology. Do not mention %[2]d as the current year.",
		), year, year-1)
	}
	return fmt.Sprintf(l.Pick(
		"\n\nПредоставь последние новости и актуальную информацию по этой теме за %[1]d год. Не упоминай %[2]d год как текущий.",
		"\n\nProvide the latest news and current information on this topic for %[1]d. Do not mention %[2]d as the current year.",
	), year, year-1)
}

// System returns the system instruction for post generation.
func (l Lang) System(now time.Time) string {
	return fmt.Sprintf(l.Pick(
		"Ты - полезный ассистент, который предоставляет точную, краткую и увлекательную информацию. Твоя задача - создавать уникальный контент для Telegram-канала, который не повторяет предыдущие публикации. Используй актуальные данные и интересные факты. Сегодня %[1]s года, используй эту информацию при создании контента. Обязательно включай самую актуальную информацию о последних событиях, технологиях и тенденциях %[2]d года. Когда ищешь информацию в интернете, обязательно указывай дату публикации и источник информации.",
		"You are a helpful assistant that provides accurate, concise, and engaging information. Your task is to create unique content for a Telegram channel that doesn't repeat previous publications. Use current data and interesting facts. Today is %[1]s, use this information when creating content. Be sure to include the most up-to-date information about the latest events, technologies, and trends of %[2]d. When searching for information on the internet, always mention the publication date and source of information.",
	), l.Today(now), now.Year())
}

// ResearchSystem returns the system instruction for the research step that
// precedes search-augmented generation.
func (l Lang) ResearchSystem(machineLearning bool, now time.Time) string {
	s := fmt.Sprintf(l.Pick(
		"Ты - исследователь, который ищет актуальную информацию. Твоя задача - найти самую свежую информацию по запросу и представить её в структурированном виде с указанием источников и дат публикации. Сегодня %[1]s года, предоставляй только актуальную информацию за текущий год. Обязательно включай информацию о последних событиях, технологиях и тенденциях %[2]d года.",
		"You are a researcher looking for current information. Your task is to find the most up-to-date information on the query and present it in a structured way with sources and publication dates. Today is %[1]s, provide only current information for this year. Be sure to include information about the latest events, technologies, and trends of %[2]d.",
	), l.Today(now), now.Year())
	if machineLearning {
		s += fmt.Sprintf(l.Pick(
			"\nВАЖНО: Для запросов о машинном обучении и нейросетях обязательно включи информацию о новых проектах и репозиториях на GitHub, которые стали популярными в %[1]d году. Укажи названия репозиториев, их авторов, количество звезд и краткое описание технологии.",
			"\nIMPORTANT: For queries about machine learning and neural networks, be sure to include information about new projects and repositories on GitHub that have become popular in %[1]d. Include repository names, their authors, number of stars, and a brief description of the technology.",
		), now.Year())
	}
	return s
}

// ResearchQuery returns the query of the research step for topic.
func (l Lang) ResearchQuery(topic string, machineLearning bool, now time.Time) string {
	q := fmt.Sprintf(l.Pick(
		"Последние новости и события по теме %[1]q за %[2]d год (по состоянию на %[3]s). Предоставь самую актуальную информацию, факты, тенденции и достижения в этой области за текущий год.",
		"Latest news and events about %[1]q in %[2]d (as of %[3]s). Provide the most current information, facts, trends, and achievements in this field for the current year.",
	), topic, now.Year(), l.dayMonth(now))
	if machineLearning {
		q += fmt.Sprintf(l.Pick(
			" Включи информацию о новых популярных проектах и репозиториях на GitHub в области машинного обучения и нейросетей за %d год.",
			" Include information about new popular projects and repositories on GitHub in machine learning and neural networks for %d.",
		), now.Year())
	}
	return q
}

// WithResearch returns prompt extended with research results.
func (l Lang) WithResearch(prompt, research string, now time.Time) string {
	return fmt.Sprintf(l.Pick(
		"%[1]s\n\nИспользуй следующую актуальную информацию для создания поста:\n\n%[2]s\n\nСоздай информативный и увлекательный пост для Telegram-канала, используя эту актуальную информацию за %[3]d год (по состоянию на %[4]s). Обязательно укажи источники информации в конце поста. Не упоминай %[5]d год как текущий, сейчас %[3]d год.",
		"%[1]s\n\nUse the following current information to create your post:\n\n%[2]s\n\nCreate an informative and engaging post for a Telegram channel using this current information for %[3]d (as of %[4]s). Be sure to include the sources of information at the end of the post. Do not mention %[5]d as the current year, the current year is %[3]d.",
	), prompt, research, now.Year(), l.dayMonth(now), now.Year()-1)
}

// Headline is a recent news item used as a hint for generation.
type Headline struct {
	Title  string
	Link   string
	Source string
	Date   time.Time
}

// WithHeadlines returns prompt followed by a list of recent headlines. It
// returns prompt unchanged if there are no headlines.
func (l Lang) WithHeadlines(prompt string, headlines []Headline) string {
	if len(headlines) == 0 {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString(l.Pick(
		"\n\nПоследние заголовки из новостных лент по теме:\n",
		"\n\nRecent headlines from news feeds on this topic:\n",
	))
	for _, h := range headlines {
		sb.WriteString("- " + h.Title)
		if !h.Date.IsZero() {
			sb.WriteString(" (" + l.ShortDate(h.Date) + ")")
		}
		if h.Link != "" {
			sb.WriteString(" " + h.Link)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Image returns the image generation prompt for an image instruction.
func (l Lang) Image(instruction string) string {
	return instruction + l.Pick(", высокое качество, фотореалистичное изображение", ", high quality, photorealistic image")
}

// Placeholder returns the post body published when generation failed.
func (l Lang) Placeholder(topic string) string {
	return fmt.Sprintf(l.Pick(
		"Информация по теме %q временно недоступна. Пожалуйста, попробуйте позже.",
		"Information on %q is temporarily unavailable. Please try again later.",
	), topic)
}

// Header returns the first lines of a post about topic.
func Header(topic string) string { return "📝 " + topic + "\n\n" }
